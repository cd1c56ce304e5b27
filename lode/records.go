package lode

import "github.com/justapithecus/backfill/types"

// Partition keys, in layout order.
var partitionKeys = []string{"entity", "project", "day", "run_id", "kind"}

// toRecordMap flattens a record into the stored row shape: partition keys
// plus the record's own payload under its kind.
func toRecordMap(run *types.RunRecord, rec *types.Record, day string) map[string]any {
	row := map[string]any{
		"entity":  run.Entity,
		"project": run.Project,
		"day":     day,
		"run_id":  run.RunID,
		"kind":    string(rec.Kind),
		"num":     rec.Num,
	}
	if rec.Control.ReqResp {
		row["req_resp"] = true
	}

	switch rec.Kind {
	case types.KindRun:
		if rec.Run != nil {
			row["run"] = map[string]any{
				"display_name": rec.Run.DisplayName,
				"group":        rec.Run.Group,
				"job_type":     rec.Run.JobType,
				"started_at":   rec.Run.StartedAt,
			}
		}
	case types.KindHistory:
		if rec.History != nil {
			// Values stay JSON text: NaN and Infinity are not valid JSON numbers.
			items := make(map[string]string, len(rec.History.Items))
			for _, item := range rec.History.Items {
				items[item.Key] = item.ValueJSON
			}
			row["step"] = rec.History.Step.Num
			row["items"] = items
		}
	case types.KindFiles:
		if rec.Files != nil {
			files := make([]map[string]any, 0, len(rec.Files.Files))
			for _, f := range rec.Files.Files {
				files = append(files, map[string]any{"path": f.Path, "policy": string(f.Policy)})
			}
			row["files"] = files
		}
	case types.KindExit:
		if rec.Exit != nil {
			row["exit_code"] = rec.Exit.ExitCode
			row["runtime_seconds"] = rec.Exit.RuntimeSeconds
		}
	case types.KindFinal:
	default:
		row["payload"] = rec.Other
	}
	return row
}
