package services

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Officially assigned ISO 3166-1 alpha-2 codes. x/text also parses
// exceptionally reserved (AC, DG, TA), transitionally reserved (DD, SU, FQ)
// and user-assigned (XK) codes, which stores never report.
var iso3166Assigned = func() map[string]struct{} {
	const codes = `
AD AE AF AG AI AL AM AO AQ AR AS AT AU AW AX AZ
BA BB BD BE BF BG BH BI BJ BL BM BN BO BQ BR BS BT BV BW BY BZ
CA CC CD CF CG CH CI CK CL CM CN CO CR CU CV CW CX CY CZ
DE DJ DK DM DO DZ
EC EE EG EH ER ES ET
FI FJ FK FM FO FR
GA GB GD GE GF GG GH GI GL GM GN GP GQ GR GS GT GU GW GY
HK HM HN HR HT HU
ID IE IL IM IN IO IQ IR IS IT
JE JM JO JP
KE KG KH KI KM KN KP KR KW KY KZ
LA LB LC LI LK LR LS LT LU LV LY
MA MC MD ME MF MG MH MK ML MM MN MO MP MQ MR MS MT MU MV MW MX MY MZ
NA NC NE NF NG NI NL NO NP NR NU NZ
OM
PA PE PF PG PH PK PL PM PN PR PS PT PW PY
QA
RE RO RS RU RW
SA SB SC SD SE SG SH SI SJ SK SL SM SN SO SR SS ST SV SX SY SZ
TC TD TF TG TH TJ TK TL TM TN TO TR TT TV TW TZ
UA UG UM US UY UZ
VA VC VE VG VI VN VU
WF WS
YE YT
ZA ZM ZW`
	set := make(map[string]struct{}, 249)
	for _, c := range strings.Fields(codes) {
		set[c] = struct{}{}
	}
	return set
}()

// regionAlpha3 converts an ISO 3166-1 alpha-2 country code to alpha-3.
// Only officially assigned codes are accepted.
func regionAlpha3(alpha2 string) (string, error) {
	code := strings.ToUpper(alpha2)
	if _, ok := iso3166Assigned[code]; !ok {
		return "", fmt.Errorf("region %q is not an assigned alpha-2 code", alpha2)
	}
	r, err := language.ParseRegion(code)
	if err != nil {
		return "", fmt.Errorf("region %q: %w", alpha2, err)
	}
	iso3 := r.ISO3()
	if len(iso3) != 3 || iso3 == "ZZZ" {
		return "", fmt.Errorf("region %q has no alpha-3 code", alpha2)
	}
	return iso3, nil
}
