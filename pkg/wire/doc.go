// Package wire implements the serial-line GCode protocol: encoding
// outgoing lines with line numbers and XOR checksums, and parsing
// incoming CR/LF-delimited responses (ok, feedback, greeting, echo,
// debug, warning, error, resend) plus the in-band host-gcode macro
// syntax used for position marks.
package wire
