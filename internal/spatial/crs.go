package spatial

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/JonMunkholm/geopublish/internal/domain"
)

// Well-known SRIDs.
const (
	SRIDWGS84       = 4326
	SRIDWebMercator = 3857
)

var (
	wktAuthorityRe = regexp.MustCompile(`(?i)AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	wkt2IDRe       = regexp.MustCompile(`(?i)\bID\[\s*"EPSG"\s*,\s*(\d+)\s*\]`)
)

// ParseEPSG extracts an EPSG code from the usual spellings: "EPSG:4326",
// a bare integer, OGC URNs and URLs, CRS84, and WKT carrying an EPSG
// authority. It reports false when no code can be found.
func ParseEPSG(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	upper := strings.ToUpper(s)
	if strings.Contains(upper, "CRS84") {
		return SRIDWGS84, true
	}

	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n, true
	}

	if strings.HasPrefix(upper, "EPSG:") {
		if n, err := strconv.Atoi(strings.TrimSpace(s[len("EPSG:"):])); err == nil && n > 0 {
			return n, true
		}
		return 0, false
	}

	// urn:ogc:def:crs:EPSG::3857, urn:ogc:def:crs:EPSG:6.6:4326,
	// http://www.opengis.net/def/crs/EPSG/0/4326
	if strings.HasPrefix(upper, "URN:") || strings.HasPrefix(upper, "HTTP") {
		if !strings.Contains(upper, "EPSG") {
			return 0, false
		}
		i := strings.LastIndexAny(s, ":/")
		if n, err := strconv.Atoi(s[i+1:]); err == nil && n > 0 {
			return n, true
		}
		return 0, false
	}

	return parseWKT(s)
}

// parseWKT takes the last EPSG authority, which in WKT1 belongs to the
// outermost CRS definition.
func parseWKT(wkt string) (int, bool) {
	for _, re := range []*regexp.Regexp{wktAuthorityRe, wkt2IDRe} {
		matches := re.FindAllStringSubmatch(wkt, -1)
		if len(matches) == 0 {
			continue
		}
		n, err := strconv.Atoi(matches[len(matches)-1][1])
		if err == nil && n > 0 {
			return n, true
		}
	}

	// ESRI-flavoured .prj files usually carry no authority.
	upper := strings.ToUpper(wkt)
	switch {
	case strings.Contains(upper, "WEB_MERCATOR") || strings.Contains(upper, "PSEUDO-MERCATOR"):
		return SRIDWebMercator, true
	case strings.HasPrefix(upper, "GEOGCS[") && strings.Contains(upper, "WGS_1984"):
		return SRIDWGS84, true
	}
	return 0, false
}

// FormatEPSG renders an SRID as "EPSG:<n>".
func FormatEPSG(srid int) string {
	return fmt.Sprintf("EPSG:%d", srid)
}

// NormalizeCRS returns the canonical "EPSG:<n>" form of s, or s unchanged
// when it carries no recognizable code.
func NormalizeCRS(s string) string {
	if n, ok := ParseEPSG(s); ok {
		return FormatEPSG(n)
	}
	return s
}

func isMercator(srid int) bool {
	return srid == SRIDWebMercator || srid == 900913 || srid == 3785
}

// CanReproject reports whether Reproject handles the pair locally. Other
// pairs are left to the database.
func CanReproject(from, to int) bool {
	if from == to || (isMercator(from) && isMercator(to)) {
		return true
	}
	return (from == SRIDWGS84 && isMercator(to)) || (isMercator(from) && to == SRIDWGS84)
}

// Reproject transforms a copy of g between two SRIDs. Only WGS84 and Web
// Mercator are supported; any other pair fails with ErrReprojection.
func Reproject(g orb.Geometry, from, to int) (orb.Geometry, error) {
	if g == nil || from == to || (isMercator(from) && isMercator(to)) {
		return g, nil
	}

	switch {
	case from == SRIDWGS84 && isMercator(to):
		return project.Geometry(orb.Clone(g), project.WGS84.ToMercator), nil
	case isMercator(from) && to == SRIDWGS84:
		return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84), nil
	}

	return nil, domain.NewError(domain.ErrReprojection, "reproject",
		fmt.Sprintf("no transformation from EPSG:%d to EPSG:%d", from, to), nil)
}
