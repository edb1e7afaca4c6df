package encoding

import "regexp"

// hardwareFailurePattern matches stderr lines showing that the VAAPI path
// cannot work on this host, as opposed to a problem with the input.
var hardwareFailurePattern = regexp.MustCompile(
	`(?i)Failed to initiali[sz]e VAAPI connection|` +
		`No VA display found|` +
		`Device creation failed|` +
		`Failed to create a VAAPI device|` +
		`Cannot load libva|` +
		`Failed setup for format vaapi|` +
		`Unknown encoder 'h264_vaapi'|` +
		`Error while opening encoder.*h264_vaapi|` +
		`Failed to sync surface|` +
		`No usable encoding profile found|` +
		`hwaccel initiali[sz]ation returned error|` +
		`Impossible to convert between the formats`)

// MatchHardwareFailure reports whether line carries a VAAPI failure signature.
func MatchHardwareFailure(line string) bool {
	return hardwareFailurePattern.MatchString(line)
}
