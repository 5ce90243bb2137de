// Package coord is the coordinate adapter described in SPEC_FULL.md
// §4.2: it turns a geodetic fix plus a heading into a planar pose in
// a locally anchored frame. The geodetic-to-UTM projection itself is
// delegated to github.com/wroge/wgs84 rather than re-derived; this
// package's own job is the antenna lever-arm translation, the
// yaw-bias rotation, and anchoring the first accepted fix as the
// local frame's origin.
package coord

import (
	"fmt"
	"math"

	"github.com/wroge/wgs84"

	"github.com/relabs-tech/gnss-ins-fuse/internal/gnss"
	"github.com/relabs-tech/gnss-ins-fuse/internal/logparser"
	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
)

// Options configures the antenna offset correction layered on top of
// the projection.
type Options struct {
	AntennaLeverArm  rotation.Vec3 // body-frame meters, GNSS antenna relative to IMU
	AntennaYawBiasRad float64
}

// DefaultOptions returns a zero lever arm and zero yaw bias — no
// correction applied.
func DefaultOptions() Options {
	return Options{}
}

// Adapter projects geodetic fixes into one local transverse-Mercator
// frame, anchored at the first fix it successfully converts.
type Adapter struct {
	opt      Options
	zone     int
	north    bool
	haveZone bool

	haveOrigin bool
	originE    float64
	originN    float64
}

// New builds an Adapter. The UTM zone is derived from the longitude of
// the fix passed to the first Convert call, whether or not that call
// succeeds.
func New(opt Options) *Adapter {
	return &Adapter{opt: opt}
}

func utmZone(lonDeg float64) int {
	zone := int(math.Floor((lonDeg+180.0)/6.0)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	return zone
}

// Convert projects one geodetic fix into the adapter's local planar
// frame. It returns ok=false when the projection library rejects the
// point (out of its valid area). A fix with an invalid heading is still
// projected; its HeadingValid flag is carried through unchanged.
func (a *Adapter) Convert(fix logparser.GeoFix) (gnss.Fix, bool) {
	if !a.haveZone {
		a.zone = utmZone(fix.LonDeg)
		a.north = fix.LatDeg >= 0
		a.haveZone = true
	}

	easting, northing, _, ok := a.project(fix.LonDeg, fix.LatDeg, fix.AltM)
	if !ok {
		return gnss.Fix{}, false
	}

	if !a.haveOrigin {
		a.originE, a.originN = easting, northing
		a.haveOrigin = true
	}

	x := easting - a.originE
	y := northing - a.originN
	z := fix.AltM

	headingRad := fix.HeadingDeg*math.Pi/180.0 - a.opt.AntennaYawBiasRad
	r := rotation.Rz(headingRad)

	armWorld := r.MulVec(a.opt.AntennaLeverArm)
	pos := rotation.NewVec3(x, y, z).Sub(armWorld)

	return gnss.Fix{
		Time:         fix.Time,
		Position:     pos,
		Rotation:     r,
		HeadingValid: fix.HeadingValid,
		Status:       fix.Status,
		WallClockKey: fix.WallClockKey,
	}, true
}

func (a *Adapter) project(lonDeg, latDeg, altM float64) (easting, northing, height float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	transform := wgs84.LonLat().To(wgs84.UTM(float64(a.zone), a.north))
	e, n, h := transform(lonDeg, latDeg, altM)
	if math.IsNaN(e) || math.IsNaN(n) {
		return 0, 0, 0, false
	}
	return e, n, h, true
}

// ConvertAll converts a batch of geodetic fixes, dropping any the
// projection rejects, and logs nothing itself — callers decide
// whether a drop is worth a warning (the parser already warned for
// malformed source lines).
func ConvertAll(a *Adapter, fixes []logparser.GeoFix) []gnss.Fix {
	out := make([]gnss.Fix, 0, len(fixes))
	for _, f := range fixes {
		converted, ok := a.Convert(f)
		if !ok {
			continue
		}
		out = append(out, converted)
	}
	return out
}

// Validate checks Options for an obviously malformed lever arm.
func (o Options) Validate() error {
	if math.IsNaN(o.AntennaLeverArm.X) || math.IsNaN(o.AntennaLeverArm.Y) || math.IsNaN(o.AntennaLeverArm.Z) {
		return fmt.Errorf("coord: antenna lever arm contains NaN")
	}
	return nil
}
