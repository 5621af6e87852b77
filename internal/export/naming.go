package export

import (
	"fmt"

	"github.com/terrashade/terrashade/pkg/solartime"
)

// Output naming is fixed so reruns land on identical paths: the product
// prefix, the unpadded day of year, and the four-digit time identifier.
// Local-time runs can additionally tag the shadow mask with the UTC
// identifier so masks line up with satellite capture windows.
const (
	maskPrefix      = "shadow_mask"
	incidencePrefix = "solar_incidence"
	quantizedPrefix = "solar_incidence_8bit"
)

func fileName(prefix string, s solartime.Stamp) string {
	return fmt.Sprintf("%s_doy%d_%s.tif", prefix, s.DayOfYear, s.HHMM())
}

// MaskName returns the shadow mask file name for a stamp. With utcSuffix
// set, masks from local-time stamps carry a second identifier naming the
// equivalent UTC time.
func MaskName(s solartime.Stamp, utcSuffix bool) string {
	name := fileName(maskPrefix, s)
	if utcSuffix && !s.IsUTC {
		name = fmt.Sprintf("%s_doy%d_%s_UTC%s.tif", maskPrefix, s.DayOfYear, s.HHMM(), s.UTC().HHMM())
	}
	return name
}

// IncidenceName returns the full-precision incidence file name for a stamp.
func IncidenceName(s solartime.Stamp) string {
	return fileName(incidencePrefix, s)
}

// QuantizedName returns the 8-bit incidence file name for a stamp.
func QuantizedName(s solartime.Stamp) string {
	return fileName(quantizedPrefix, s)
}
