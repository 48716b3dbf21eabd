package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/hbsenergia/cmgtrack/internal/models"
	"github.com/hbsenergia/cmgtrack/internal/synth"
)

const (
	DefaultProgrammedFTPHost = "ftp.coordinador.cl:21"
	programmedPathFormat     = "/public/operacion/cmg_programado_%s.csv"
)

// ProgrammedClient retrieves the coordinator's daily programmed marginal
// cost file over FTP. One CSV per day: plant, reference bus, then 24
// hourly values.
type ProgrammedClient struct {
	host string
}

func NewProgrammedClient(host string) *ProgrammedClient {
	if host == "" {
		host = DefaultProgrammedFTPHost
	}
	return &ProgrammedClient{host: host}
}

// FetchDaily downloads and parses the programmed curves for a date.
// Rows that fail to parse are skipped and counted; a file where nothing
// parses is an error.
func (p *ProgrammedClient) FetchDaily(date time.Time) ([]models.ProgrammedForecast, int, error) {
	conn, err := ftp.Dial(p.host, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, 0, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, 0, fmt.Errorf("ftp login: %w", err)
	}

	path := fmt.Sprintf(programmedPathFormat, date.Format("20060102"))
	resp, err := conn.Retr(path)
	if err != nil {
		return nil, 0, fmt.Errorf("ftp retr %s: %w", path, err)
	}
	defer resp.Close()

	forecasts, parseErrors, err := parseProgrammedCSV(resp, date)
	if err != nil {
		return nil, parseErrors, err
	}
	return forecasts, parseErrors, nil
}

func parseProgrammedCSV(r io.Reader, date time.Time) ([]models.ProgrammedForecast, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var forecasts []models.ProgrammedForecast
	parseErrors := 0
	first := true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErrors++
			continue
		}

		// Header row: plant,bus,h00..h23
		if first {
			first = false
			if len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "central") {
				continue
			}
		}

		f, ok := parseProgrammedRow(record, date)
		if !ok {
			parseErrors++
			continue
		}
		forecasts = append(forecasts, f)
	}

	if len(forecasts) == 0 {
		return nil, parseErrors, fmt.Errorf("no parseable rows (%d failures)", parseErrors)
	}
	return forecasts, parseErrors, nil
}

func parseProgrammedRow(record []string, date time.Time) (models.ProgrammedForecast, bool) {
	var f models.ProgrammedForecast
	if len(record) != 26 {
		return f, false
	}

	f.PlantID = strings.TrimSpace(record[0])
	f.ReferenceBus = strings.TrimSpace(record[1])
	f.ForecastDate = date
	if f.PlantID == "" {
		return f, false
	}

	for h := 0; h < 24; h++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[2+h]), 64)
		if err != nil || !synth.InRange(v) {
			return f, false
		}
		f.Values[h] = v
	}
	return f, true
}
