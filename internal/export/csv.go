package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/dancesync/dancesync-agent/internal/compare"
)

var csvHeader = []string{"beat", "timestamp", "frame", "user_timestamp", "user_frame", "similarity", "below_threshold"}

// WriteReportCSV writes one row per scored beat.
func WriteReportCSV(w io.Writer, results []compare.BeatScore, threshold float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i, r := range results {
		row := []string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(r.Timestamp, 'f', 3, 64),
			strconv.Itoa(r.Frame),
			strconv.FormatFloat(r.UserTime, 'f', 3, 64),
			strconv.Itoa(r.UserFrame),
			strconv.FormatFloat(r.Similarity, 'f', 4, 64),
			strconv.FormatBool(r.Similarity < threshold),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
