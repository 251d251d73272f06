package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/utils"
)

var t0 = time.Date(2021, 6, 1, 9, 0, 0, 123456789, time.UTC)

func TestSeriesCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accelerometer", "E4_normalized_unit.csv")
	s := models.Series{
		Device:  "E4",
		Sensor:  "accelerometer",
		Columns: []string{"x", "y", "z", "vector_length"},
		Samples: []models.Sample{
			{Timestamp: t0, Values: []float64{1, -2, 3, 0.0312}},
			{Timestamp: t0.Add(time.Second / 32), Values: []float64{0, 0, 0, 0}},
		},
	}
	require.NoError(t, WriteSeries(path, s))

	got, err := LoadSeries(path, "E4", "accelerometer")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestWriteSeriesOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.csv")
	s := models.Series{Columns: []string{"v"}, Samples: []models.Sample{{Timestamp: t0, Values: []float64{1}}}}
	require.NoError(t, WriteSeries(path, s))
	s.Samples = nil
	require.NoError(t, WriteSeries(path, s))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Timestamp,v\n", string(body))
}

func TestReadSeriesRejectsForeignHeader(t *testing.T) {
	_, err := ReadSeries(strings.NewReader("time,v\n"), "A", "s")
	assert.Error(t, err)
}

func TestTableWritesEmptyCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "P_left.csv")
	table := models.MergedTable{
		Columns: []string{"Actigraph", "E4"},
		Rows: []models.Row{
			{Timestamp: t0, Values: []*float64{utils.Float(0.5), nil}},
			{Timestamp: t0.Add(time.Second), Values: []*float64{nil, utils.Float(0.25)}},
		},
	}
	require.NoError(t, WriteTable(path, table))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Timestamp,Actigraph,E4", lines[0])
	assert.Equal(t, "2021-06-01T09:00:00.123456789Z,0.5,", lines[1])
	assert.Equal(t, "2021-06-01T09:00:01.123456789Z,,0.25", lines[2])
}

func TestWriteRolling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.csv")
	start := time.Date(2021, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, WriteRolling(path, []models.RollingPoint{
		{Timestamp: start, DeviceA: "A", DeviceB: "B", PearsonR: utils.Float(-1)},
		{Timestamp: start.Add(time.Second), DeviceA: "A", DeviceB: "B"},
	}))
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Timestamp,device_a,device_b,pearson_r\n"+
		"2021-06-01T09:00:00Z,A,B,-1\n"+
		"2021-06-01T09:00:01Z,A,B,\n", string(body))
}

func TestWriteAgreementAndActivities(t *testing.T) {
	dir := t.TempDir()
	agreement := []models.Agreement{
		{DeviceA: "A", DeviceB: "B", N: 3, PearsonR: utils.Float(0.9), MeanDiff: utils.Float(0.1), SDDiff: utils.Float(0.2), LoALow: utils.Float(-0.292), LoAHigh: utils.Float(0.492)},
		{DeviceA: "A", DeviceB: "C", N: 1},
	}
	require.NoError(t, WriteAgreement(filepath.Join(dir, "a.csv"), agreement))
	body, err := os.ReadFile(filepath.Join(dir, "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, "device_a,device_b,n,pearson_r,mean_diff,sd_diff,loa_low,loa_high\n"+
		"A,B,3,0.9,0.1,0.2,-0.292,0.492\n"+
		"A,C,1,,,,,\n", string(body))

	acts := []models.Activity{{Wearer: "P", Start: t0, Stop: t0.Add(time.Hour), Activity: "walking"}}
	require.NoError(t, WriteActivities(filepath.Join(dir, "act.csv"), acts))
	body, err = os.ReadFile(filepath.Join(dir, "act.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "P,2021-06-01T09:00:00.123456789Z,2021-06-01T10:00:00.123456789Z,walking")

	events := []models.WearEvent{{Person: "P", Wrist: models.WristLeft, Device: "E4", Start: t0, Stop: t0.Add(time.Hour)}}
	require.NoError(t, WriteEvents(filepath.Join(dir, "ev.csv"), events))
	body, err = os.ReadFile(filepath.Join(dir, "ev.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "person,wrist,device,start,stop\nP,left,E4,"))
}
