package updater

// Version is a parsed dotted version string, reduced to the numeric parts
// used for ordering. ESPHome publishes calendar versions like "2024.6.1"
// and pre-releases like "2024.6.0b2".
type Version struct {
	Parts []int
	// Pre is set when any segment carried text after (or instead of) its
	// leading digits, e.g. "0b2" or "rc1".
	Pre bool
}

// ParseVersion splits on '.' and takes the longest leading run of ASCII
// digits from each segment. A segment with no leading digits contributes no
// element but still marks the version as a pre-release.
func ParseVersion(s string) Version {
	var v Version
	start := 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != '.' {
			continue
		}
		seg := s[start:i]
		start = i + 1
		if seg == "" {
			continue
		}
		n := 0
		for n < len(seg) && seg[n] >= '0' && seg[n] <= '9' {
			n++
		}
		if n < len(seg) {
			v.Pre = true
		}
		if n == 0 {
			continue
		}
		val := 0
		for _, c := range seg[:n] {
			val = val*10 + int(c-'0')
		}
		v.Parts = append(v.Parts, val)
	}
	return v
}

// IsNewer reports whether latest orders after installed.
//
// Rules, in order:
//  1. element-wise comparison; the first differing element decides;
//  2. if one vector is a strict prefix of the other, the longer is newer
//     ("2024.1.1" > "2024.1");
//  3. identical vectors: a plain release is newer than a pre-release of the
//     same numeric prefix ("2024.1.0" > "2024.1.0b1").
func IsNewer(latest, installed string) bool {
	l, in := ParseVersion(latest), ParseVersion(installed)
	n := min(len(l.Parts), len(in.Parts))
	for i := 0; i < n; i++ {
		if l.Parts[i] != in.Parts[i] {
			return l.Parts[i] > in.Parts[i]
		}
	}
	if len(l.Parts) != len(in.Parts) {
		return len(l.Parts) > len(in.Parts)
	}
	return in.Pre && !l.Pre
}
