package tlsinspect

// Version is the internal TLS version enum the inspector reports.
// Serialized as its integer value (spec.md §4.5: "Numeric TLS version
// is emitted as the internal enum integer").
type Version int

// Enumeration over the versions the inspector distinguishes, per the
// version table in spec.md §4.4.
const (
	VersionUnsupported Version = iota
	VersionSSLv3
	Version10
	Version11
	Version12
	Version13
	Version13Draft
)

// versionOf maps a hello body's {major, minor} bytes to the internal
// enum, per spec.md §4.4's version table:
//
//	(3,0)->SSLv3, (3,1)->1.0, (3,2)->1.1, (3,3)->1.2, (3,4)->1.3,
//	(0x7f,0x12)->1.3-draft, else->unsupported
func versionOf(major, minor byte) Version {
	switch {
	case major == 3 && minor == 0:
		return VersionSSLv3
	case major == 3 && minor == 1:
		return Version10
	case major == 3 && minor == 2:
		return Version11
	case major == 3 && minor == 3:
		return Version12
	case major == 3 && minor == 4:
		return Version13
	case major == 0x7f && minor == 0x12:
		return Version13Draft
	default:
		return VersionUnsupported
	}
}

// String implements fmt.Stringer for debug/log output.
func (v Version) String() string {
	switch v {
	case VersionSSLv3:
		return "SSLv3"
	case Version10:
		return "TLSv1.0"
	case Version11:
		return "TLSv1.1"
	case Version12:
		return "TLSv1.2"
	case Version13:
		return "TLSv1.3"
	case Version13Draft:
		return "TLSv1.3-draft"
	default:
		return "unsupported"
	}
}
