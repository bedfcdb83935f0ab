package foursquare

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	appLog "fsqcal/internal/log"
	"fsqcal/internal/model"
)

// rawCheckin mirrors the subset of the v2 check-in payload we keep.
type rawCheckin struct {
	ID        string `json:"id"`
	CreatedAt *int64 `json:"createdAt"`
	Shout     string `json:"shout"`
	Venue     *struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Location struct {
			FormattedAddress []string `json:"formattedAddress"`
		} `json:"location"`
	} `json:"venue"`
}

// ParseItem converts one raw check-in into a CheckinRecord.
//
//   - id and createdAt are required; anything else falls back to empty.
//   - the venue link is derived from the venue id.
func ParseItem(raw json.RawMessage) (model.CheckinRecord, error) {
	var in rawCheckin
	if err := json.Unmarshal(raw, &in); err != nil {
		return model.CheckinRecord{}, err
	}
	if strings.TrimSpace(in.ID) == "" {
		return model.CheckinRecord{}, errors.New("missing id")
	}
	if in.CreatedAt == nil {
		return model.CheckinRecord{}, errors.New("missing createdAt")
	}

	rec := model.CheckinRecord{
		ID:        in.ID,
		CreatedAt: *in.CreatedAt,
		Shout:     in.Shout,
	}
	if in.Venue != nil {
		rec.VenueID = in.Venue.ID
		rec.VenueName = in.Venue.Name
		rec.Address = strings.Join(in.Venue.Location.FormattedAddress, ", ")
	}
	rec.Link = model.VenueLink(rec.VenueID)
	return rec, nil
}

// ParseItems parses every raw item, skipping (and logging) the ones that
// fail. The returned errors are all *ParseError.
func ParseItems(raws []json.RawMessage) ([]model.CheckinRecord, []error) {
	out := make([]model.CheckinRecord, 0, len(raws))
	var errs []error

	for i, raw := range raws {
		rec, err := ParseItem(raw)
		if err != nil {
			perr := &ParseError{Index: i, ID: peekID(raw), Err: err}
			appLog.Error("foursquare item parse failed; skipping", perr)
			errs = append(errs, perr)
			continue
		}
		out = append(out, rec)
	}
	return out, errs
}

// peekID pulls the id out of a payload that failed typed decoding, if it
// is there at all.
func peekID(raw json.RawMessage) string {
	id := gjson.GetBytes(raw, "id")
	if id.Type != gjson.String {
		return ""
	}
	return id.String()
}
