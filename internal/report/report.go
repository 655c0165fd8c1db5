// Package report renders position, scheduling and trigger diagnostics as
// terminal tables.
package report

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/sweeney/ecu-timing/internal/status"
	"github.com/sweeney/ecu-timing/internal/trigger"
)

// PositionTable lists sync state and position.
func PositionTable(s status.Snapshot) pterm.TableData {
	p := s.Position
	return pterm.TableData{
		{"Field", "Value"},
		{"Crank sync", yesno(p.Synced)},
		{"Cam sync", yesno(p.CamSynced)},
		{"Phase", p.Phase.String()},
		{"Running", yesno(p.Running)},
		{"RPM", fmt.Sprintf("%d", p.RPM.RPM)},
		{"Instant RPM", fmt.Sprintf("%d", p.RPM.InstantRPM)},
		{"Tooth", fmt.Sprintf("%d", p.Tooth)},
		{"Tooth period", fmt.Sprintf("%dus", p.ToothPeriodUs)},
		{"Crank angle", fmt.Sprintf("%d", p.CrankAngle)},
		{"Cycle angle", fmt.Sprintf("%d", p.CycleAngle)},
		{"VVT", fmt.Sprintf("%d / %d (err %d)", p.VVT.Position, p.VVT.Target, p.VVT.Error)},
		{"Syncs", fmt.Sprintf("%d (%d lost)", p.Decoder.SyncCount, p.Decoder.SyncLossCount)},
	}
}

// FaultTable lists each fault counter and the observed period range.
func FaultTable(d trigger.DiagStats) pterm.TableData {
	data := pterm.TableData{{"Fault", "Count"}}
	for _, e := range trigger.ErrorTypes {
		n := d.Count(e)
		count := fmt.Sprintf("%d", n)
		if n > 0 {
			count = pterm.FgRed.Sprint(count)
		}
		data = append(data, []string{string(e), count})
	}
	data = append(data,
		[]string{"TOTAL", fmt.Sprintf("%d", d.Total)},
		[]string{"Period range", fmt.Sprintf("%d-%dus", d.MinPeriodUs, d.MaxPeriodUs)},
	)
	return data
}

// SchedulerTable lists event, stage, timer and plan counters.
func SchedulerTable(s status.Snapshot) pterm.TableData {
	return pterm.TableData{
		{"Counter", "Events", "Stages", "Timers"},
		{"Scheduled", fmt.Sprintf("%d", s.Scheduler.Scheduled), fmt.Sprintf("%d", s.MultiStage.Started), fmt.Sprintf("%d", s.Timer.Scheduled)},
		{"Fired", fmt.Sprintf("%d", s.Scheduler.Fired), fmt.Sprintf("%d", s.MultiStage.Completed), fmt.Sprintf("%d", s.Timer.Fired)},
		{"Cancelled", fmt.Sprintf("%d", s.Scheduler.Cancelled), fmt.Sprintf("%d", s.MultiStage.Cancelled), fmt.Sprintf("%d", s.Timer.Cancelled)},
		{"Missed/late", fmt.Sprintf("%d", s.Scheduler.Missed), "-", fmt.Sprintf("%d", s.Timer.Late)},
		{"Active", fmt.Sprintf("%d", s.Scheduler.Active), fmt.Sprintf("%d", s.MultiStage.Active), fmt.Sprintf("%d", s.Timer.Armed)},
	}
}

// LogTable lists the diagnostics ring, newest last. At most limit entries are
// shown; limit <= 0 shows all.
func LogTable(entries []trigger.LogEntry, limit int) pterm.TableData {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	data := pterm.TableData{{"Time (us)", "Fault", "Tooth", "Period (us)", "RPM"}}
	for _, e := range entries {
		data = append(data, []string{
			fmt.Sprintf("%d", e.Time),
			string(e.Error),
			fmt.Sprintf("%d", e.Tooth),
			fmt.Sprintf("%d", e.Period),
			fmt.Sprintf("%d", e.RPM),
		})
	}
	return data
}

// Render writes the full report to w.
func Render(w io.Writer, s status.Snapshot, entries []trigger.LogEntry) error {
	sections := []struct {
		title string
		data  pterm.TableData
	}{
		{"Position", PositionTable(s)},
		{"Trigger faults", FaultTable(s.Position.Diag)},
		{"Scheduler", SchedulerTable(s)},
		{"Diagnostics log", LogTable(entries, 20)},
	}

	fmt.Fprint(w, pterm.DefaultHeader.WithFullWidth().Sprintf("ECU timing report (%s)", s.Config.Wheel))
	for _, sec := range sections {
		fmt.Fprintln(w)
		fmt.Fprintln(w, pterm.DefaultSection.Sprint(sec.title))
		table, err := pterm.DefaultTable.WithHasHeader().WithData(sec.data).Srender()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, table)
	}
	return nil
}

func yesno(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
