package engine

import "math"

// NOAA solar position approximation (Meeus, Astronomical Algorithms,
// abridged) shared by the fast variant. Angles in degrees unless a name
// says otherwise; the sun vector lives in the grid frame x east, y south,
// z up so that it can be projected straight onto raster rows and columns.

func degToRad(deg float64) float64 { return deg * math.Pi / 180.0 }
func radToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }
func fixAngle(a float64) float64   { return a - 360.0*math.Floor(a/360.0) }

// obliquityCorrected returns the obliquity of the ecliptic corrected for
// nutation in longitude, degrees.
func obliquityCorrected(T float64) float64 {
	ε0 := 23 + (26+(21.448-T*(46.815+T*(0.00059-T*0.001813)))/60)/60
	Ω := 125.04 - 1934.136*T
	return ε0 + 0.00256*math.Cos(degToRad(Ω))
}

// equationOfTime returns the equation of time in minutes for a Julian
// date.
func equationOfTime(jd float64) float64 {
	T := (jd - 2451545.0) / 36525.0
	ε := obliquityCorrected(T)
	L0 := fixAngle(280.46646 + T*(36000.76983+T*0.0003032))
	M := fixAngle(357.52911 + T*(35999.05029-T*0.0001537))
	e := 0.016708634 - T*(0.000042037+T*0.0000001267)
	y := math.Tan(degToRad(ε)/2) * math.Tan(degToRad(ε)/2)
	return radToDeg(y*math.Sin(degToRad(2*L0))-
		2*e*math.Sin(degToRad(M))+
		4*e*y*math.Sin(degToRad(M))*math.Cos(degToRad(2*L0))-
		0.5*y*y*math.Sin(degToRad(4*L0))-
		1.25*e*e*math.Sin(degToRad(2*M))) * 4
}

// declination returns the apparent declination of the sun in degrees.
func declination(jd float64) float64 {
	T := (jd - 2451545.0) / 36525.0
	L0 := fixAngle(280.46646 + T*(36000.76983+T*0.0003032))
	M := fixAngle(357.52911 + T*(35999.05029-T*0.0001537))
	C := math.Sin(degToRad(M))*(1.914602-T*(0.004817+T*0.000014)) +
		math.Sin(degToRad(2*M))*(0.019993-T*0.000101) +
		math.Sin(degToRad(3*M))*0.000289
	Ω := 125.04 - 1934.136*T
	λ := L0 + C - 0.00569 - 0.00478*math.Sin(degToRad(Ω))
	ε := obliquityCorrected(T)
	return radToDeg(math.Asin(math.Sin(degToRad(ε)) * math.Sin(degToRad(λ))))
}

// hourAngle returns the solar hour angle in radians, zero at local solar
// noon, negative before it.
func hourAngle(jd, hourUTC, lonDeg float64) float64 {
	solarTime := hourUTC + lonDeg/15.0 + equationOfTime(jd)/60.0
	return math.Pi * (solarTime/12.0 - 1.0)
}

// sunVector returns the unit vector toward the sun in the grid frame for
// a UTC decimal hour at a geographic coordinate.
func sunVector(jd, hourUTC, latDeg, lonDeg float64) [3]float64 {
	ω := hourAngle(jd, hourUTC, lonDeg)
	δ := degToRad(declination(jd))
	φ := degToRad(latDeg)
	sinω, cosω := math.Sincos(ω)
	sinδ, cosδ := math.Sincos(δ)
	sinφ, cosφ := math.Sincos(φ)
	return [3]float64{
		-sinω * cosδ,
		sinφ*cosω*cosδ - cosφ*sinδ,
		cosφ*cosω*cosδ + sinφ*sinδ,
	}
}

// sunAltAz converts a grid-frame sun vector to altitude and compass
// azimuth in degrees. Azimuth is clockwise from north, so east is 90.
func sunAltAz(sv [3]float64) (altDeg, azDeg float64) {
	altDeg = radToDeg(math.Asin(sv[2]))
	azDeg = radToDeg(math.Atan2(sv[0], -sv[1]))
	if azDeg < 0 {
		azDeg += 360
	}
	return altDeg, azDeg
}
