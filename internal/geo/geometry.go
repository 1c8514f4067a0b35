// Package geo detects and normalizes the geometry literal forms the policy
// DSL accepts (well-known text, SRID-prefixed WKT, GeoJSON objects) into a
// single canonical representation the SQL compiler can bind as a parameter.
package geo

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CanonicalSRID is the stored projection every geometry column uses. A
// literal that omits its projection is assumed to already be in this
// projection (§4.1, resolved Open Question in SPEC_FULL.md/DESIGN.md).
const CanonicalSRID = 4326

// Literal is a detected geometry literal, normalized to WKT in its source
// SRID. The compiler wraps Text/SRID in the store's geometry constructor and
// reprojects to CanonicalSRID when SRID differs.
type Literal struct {
	Text string
	SRID int
	Geom orb.Geometry
}

// Detect inspects val (as it appears in a leaf's Val or Args) and returns
// the normalized geometry literal if val looks like one. It recognizes:
//   - plain WKT: "POINT(23.7275 37.9838)"
//   - SRID-prefixed WKT: "SRID=3857;POINT(...)"
//   - a GeoJSON object (decoded from JSON into map[string]any)
//
// ok is false (with a nil error) for ordinary scalar/list literals that are
// not geometry at all.
func Detect(val any) (Literal, bool, error) {
	switch v := val.(type) {
	case string:
		return detectString(v)
	case map[string]any:
		return detectGeoJSON(v)
	default:
		return Literal{}, false, nil
	}
}

func detectString(s string) (Literal, bool, error) {
	srid := CanonicalSRID
	body := s
	if strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		parts := strings.SplitN(s, ";", 2)
		if len(parts) != 2 {
			return Literal{}, false, nil
		}
		idStr := strings.TrimPrefix(strings.ToUpper(parts[0]), "SRID=")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return Literal{}, true, fmt.Errorf("geo: invalid SRID in %q: %w", s, err)
		}
		srid = id
		body = parts[1]
	}

	geom, err := wkt.Unmarshal(body)
	if err != nil {
		// Not WKT at all; treat as a non-geometry string literal.
		return Literal{}, false, nil //nolint:nilerr
	}
	return Literal{Text: wkt.MarshalString(geom), SRID: srid, Geom: geom}, true, nil
}

func detectGeoJSON(m map[string]any) (Literal, bool, error) {
	if _, ok := m["type"]; !ok {
		return Literal{}, false, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return Literal{}, true, err
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return Literal{}, true, fmt.Errorf("geo: invalid GeoJSON geometry: %w", err)
	}
	srid := CanonicalSRID
	if s, ok := m["srid"]; ok {
		if f, ok := s.(float64); ok {
			srid = int(f)
		}
	}
	return Literal{Text: wkt.MarshalString(g.Geometry()), SRID: srid, Geom: g.Geometry()}, true, nil
}
