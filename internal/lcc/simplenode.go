package lcc

import "bytes"

// SimpleNodeInformation is the reassembled body of a
// SimpleNodeIdentInfoReply: two version-prefixed sub-blocks of
// null-terminated UTF-8 strings.
type SimpleNodeInformation struct {
	FixedVersion uint8
	Manufacturer string
	Model        string
	Hardware     string
	Software     string

	UserVersion     uint8
	NodeName        string
	NodeDescription string

	// Remainder holds any bytes past what this version's known strings
	// account for, for versions this engine does not interpret.
	Remainder []byte
}

// ParseSimpleNodeInformation decodes the fixed and user sub-blocks.
// Fixed-fields version 1: one string (manufacturer). Version 4: four
// strings (manufacturer, model, hardware, software). User-fields version
// 1: one string (node name). Version 2: two strings (name, description).
// Other versions are tolerated: how many strings they carry is not known,
// so the remaining bytes are kept opaque in Remainder.
func ParseSimpleNodeInformation(body []byte) SimpleNodeInformation {
	var info SimpleNodeInformation
	if len(body) == 0 {
		return info
	}
	info.FixedVersion = body[0]
	rest := body[1:]

	readString := func(b []byte) (string, []byte) {
		i := bytes.IndexByte(b, 0)
		if i < 0 {
			return string(b), nil
		}
		return string(b[:i]), b[i+1:]
	}

	switch info.FixedVersion {
	case 1:
		info.Manufacturer, rest = readString(rest)
	case 4:
		info.Manufacturer, rest = readString(rest)
		info.Model, rest = readString(rest)
		info.Hardware, rest = readString(rest)
		info.Software, rest = readString(rest)
	default:
		info.Remainder = rest
		return info
	}

	if len(rest) == 0 {
		return info
	}
	info.UserVersion = rest[0]
	rest = rest[1:]
	switch info.UserVersion {
	case 1:
		info.NodeName, rest = readString(rest)
	case 2:
		info.NodeName, rest = readString(rest)
		info.NodeDescription, rest = readString(rest)
	}
	info.Remainder = rest
	return info
}

// Build re-encodes a SimpleNodeInformation using its recorded versions.
func (info SimpleNodeInformation) Build() []byte {
	var buf bytes.Buffer
	buf.WriteByte(info.FixedVersion)
	switch info.FixedVersion {
	case 1:
		buf.WriteString(info.Manufacturer)
		buf.WriteByte(0)
	case 4:
		buf.WriteString(info.Manufacturer)
		buf.WriteByte(0)
		buf.WriteString(info.Model)
		buf.WriteByte(0)
		buf.WriteString(info.Hardware)
		buf.WriteByte(0)
		buf.WriteString(info.Software)
		buf.WriteByte(0)
	}
	if info.UserVersion != 0 {
		buf.WriteByte(info.UserVersion)
		switch info.UserVersion {
		case 1:
			buf.WriteString(info.NodeName)
			buf.WriteByte(0)
		case 2:
			buf.WriteString(info.NodeName)
			buf.WriteByte(0)
			buf.WriteString(info.NodeDescription)
			buf.WriteByte(0)
		}
	}
	buf.Write(info.Remainder)
	return buf.Bytes()
}
