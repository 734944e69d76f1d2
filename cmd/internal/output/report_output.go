package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/writers"
	"go.uber.org/zap"
)

const ReportFile = "report.json"

// WriteReport serialises the report as JSON. It goes to dest/report.json when dest is set, and to
// stdout when console is set or there is no dest.
func WriteReport(report any, dest string, console bool, stdout io.Writer) error {
	contents, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialise the report: %w", err)
	}

	files := map[string]string{ReportFile: string(contents)}

	if dest != "" {
		written, err := writers.NewFileWriter(dest).Write(files)
		if err != nil {
			return err
		}
		zap.L().Info("Report written", zap.String("dest", written))
	}

	if console || dest == "" {
		if _, err := (writers.ConsoleWriter{Out: stdout}).Write(files); err != nil {
			return err
		}
	}

	return nil
}
