package probe

// decode converts b to a string, rejecting any byte above 0x7f. argv
// names the command that wrote b.
func decode(argv []string, stream string, b []byte) (string, error) {
	for i, c := range b {
		if c > 0x7f {
			return "", &DecodeError{Argv: argv, Stream: stream, Offset: i, Byte: c}
		}
	}
	return string(b), nil
}
