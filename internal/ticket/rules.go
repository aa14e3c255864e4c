package ticket

import (
	"regexp"
	"strings"
)

var (
	// The order screen shows the booking date before the departure date;
	// anchoring on 发车时间 skips the former.
	reDateAnchored = regexp.MustCompile(`发车时间.*?[:：]?(20\d{2}[-年.]\d{1,2}[-月.]\d{1,2}日?)`)
	reDate         = regexp.MustCompile(`20\d{2}[-年.]\d{1,2}[-月.]\d{1,2}日?`)

	reSeat = regexp.MustCompile(`(\d{1,2})车(\d{1,3})([A-Za-z]?)号?`)

	// 历时53分 on short trips, 历时1小时53分 on longer ones.
	reDuration       = regexp.MustCompile(`^(.+?)[,，]?历时(?:\d+小?时(?:\d+分钟?)?|\d+分钟?)(.+?)[,，]?$`)
	reDepartureNoise = regexp.MustCompile(`发车时间.*`)

	// Departure time, then the garbled train number, then arrival time. At
	// the leftmost match the strict form wins so a digit-bearing train number
	// is not cut short by the bare four-digit anchor.
	reTimeTrainStrict = regexp.MustCompile(`(\d{2}:\d{2})([a-zA-Z0-9，,]+?)(\d{2}:\d{2})`)
	reTimeTrain       = regexp.MustCompile(`(\d{2}:\d{2})([a-zA-Z0-9，,]+?)(\d{2}:\d{2}|\d{4})`)
	reTrainNumber     = regexp.MustCompile(`[A-Za-z]\d{2,4}`)

	reClock = regexp.MustCompile(`\d{2}:\d{2}`)

	reDash        = regexp.MustCompile(`[-一—]`)
	reFourDigits  = regexp.MustCompile(`\d{4}`)
	reGate        = regexp.MustCompile(`检票口([A-Za-z0-9]+)`)
	dateSeparator = strings.NewReplacer(".", "-", "年", "-", "月", "-", "日", "")
)

// A rule inspects the views and proposes values for the fields it owns. An
// empty proposal means the rule does not apply.
type rule struct {
	name   string
	fields field
	eval   func(Views) Record
}

func dateAnchoredRule(v Views) Record {
	if m := reDateAnchored.FindStringSubmatch(v.Flat); m != nil {
		return Record{Date: normalizeDate(m[1])}
	}
	return Record{}
}

// dateOrdinalRule takes the second date when there are several; the first is
// usually the booking date.
func dateOrdinalRule(v Views) Record {
	return Record{Date: normalizeDate(secondOrOnly(reDate.FindAllString(v.Flat, 2)))}
}

func normalizeDate(s string) string {
	return dateSeparator.Replace(s)
}

// seatRule collects every seat of a multi-passenger order.
func seatRule(v Views) Record {
	var seats []string
	seen := make(map[string]struct{})
	for _, m := range reSeat.FindAllStringSubmatch(v.Flat, -1) {
		s := m[1] + "车" + m[2]
		if letter := strings.ToUpper(m[3]); letter != "" {
			s += "排" + letter
		}
		s += "号"
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		seats = append(seats, s)
	}
	return Record{Seat: strings.Join(seats, "\n")}
}

// durationRule splits the "A，历时53分B，" line into the two stations.
func durationRule(v Views) Record {
	for _, ln := range v.compact {
		if !strings.Contains(ln, "历时") {
			continue
		}
		m := reDuration.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		dep := strings.TrimSuffix(m[1], "站")
		arr := strings.TrimSuffix(reDepartureNoise.ReplaceAllString(m[2], ""), "站")
		if dep != "" && arr != "" {
			return Record{DepartureStation: dep, ArrivalStation: arr}
		}
	}
	return Record{}
}

// timeTrainMatch matches a compacted line shaped like "09:10 G123 10:03" and
// returns the departure time and the token between the two anchors.
func timeTrainMatch(ln string) (clock, noise string, ok bool) {
	loose := reTimeTrain.FindStringSubmatchIndex(ln)
	if loose == nil {
		return "", "", false
	}
	m := loose
	if strict := reTimeTrainStrict.FindStringSubmatchIndex(ln); strict != nil && strict[0] == loose[0] {
		m = strict
	}
	return ln[m[2]:m[3]], ln[m[4]:m[5]], true
}

// firstScheduleLine returns the departure time and token of the first
// compacted line shaped like a schedule line.
func firstScheduleLine(v Views) (clock, noise string, ok bool) {
	for _, ln := range v.compact {
		if clock, noise, ok = timeTrainMatch(ln); ok {
			return clock, noise, true
		}
	}
	return "", "", false
}

// scheduleLineRule reads time and train number from the same line. Later
// lines belong to other legs of the order and are never consulted.
func scheduleLineRule(v Views) Record {
	clock, noise, ok := firstScheduleLine(v)
	if !ok {
		return Record{}
	}
	return Record{Time: clock, TrainNumber: strings.ToUpper(reTrainNumber.FindString(noise))}
}

// rawNoiseRule adopts the token of the first schedule line verbatim. It is
// only part of the Loose cascade: OCR frequently turns the train number into
// letters that look nothing like it ("G123" -> "sso").
func rawNoiseRule(v Views) Record {
	if _, noise, ok := firstScheduleLine(v); ok {
		return Record{TrainNumber: strings.ToUpper(strings.Trim(noise, ",，"))}
	}
	return Record{}
}

// clockRule skips the first HH:MM when there are several; it is usually the
// phone status bar.
func clockRule(v Views) Record {
	return Record{Time: secondOrOnly(reClock.FindAllString(v.Flat, 2))}
}

// dashRule reads "北京南 - 上海虹桥" style lines. Lines whose first segment holds a
// four-digit run are date ranges and are skipped.
func dashRule(v Views) Record {
	for _, ln := range v.Lines {
		if !reDash.MatchString(ln) {
			continue
		}
		parts := reDash.Split(ln, -1)
		first := strings.TrimSpace(parts[0])
		last := strings.TrimSpace(parts[len(parts)-1])
		if reFourDigits.MatchString(first) || first == "" || last == "" {
			continue
		}
		return Record{DepartureStation: first, ArrivalStation: last}
	}
	return Record{}
}

func gateRule(v Views) Record {
	if m := reGate.FindStringSubmatch(v.Flat); m != nil {
		return Record{TicketGate: strings.ToUpper(m[1])}
	}
	return Record{}
}

func secondOrOnly(matches []string) string {
	switch len(matches) {
	case 0:
		return ""
	case 1:
		return matches[0]
	default:
		return matches[1]
	}
}
