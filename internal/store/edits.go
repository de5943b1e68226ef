package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EditToolName is the tool name the ingest adapters normalize every
// file-editing tool call to, regardless of the name the source
// harness used for it.
const EditToolName = "edit"

// editPathKeys are the argument keys an edit's target file path might
// be carried under across the adapters' differing on-disk shapes.
var editPathKeys = []string{"file_path", "path", "filePath"}

// Edit is a derived view over a tool_call event whose tool name
// identifies an edit operation.
type Edit struct {
	Event
	FilePath  string
	OldString string
	NewString string
}

// EditFilter narrows GetEdits beyond the shared filter language with
// an optional file-path substring match.
type EditFilter struct {
	Filter
	FilePath string
}

// GetEdits returns tool_call events whose tool is the edit identifier,
// parsed into their file_path/old_string/new_string arguments.
func (s *Store) GetEdits(f EditFilter) ([]Edit, Page, error) {
	filter := f.Filter
	filter.EventTypes = append(filter.EventTypes, "tool_call")
	filter.ToolNames = append(filter.ToolNames, EditToolName)

	w := &whereClause{}
	if err := s.applyCommonFilters(w, filter); err != nil {
		return nil, Page{}, err
	}

	limit, offset := pageBounds(f.Limit, f.Offset)
	querySQL := fmt.Sprintf(`
		SELECT %s FROM events e WHERE %s
		ORDER BY e.source_id, e.source_seq ASC
	`, eventColumns("e"), w.sql())

	rows, err := s.db.Query(querySQL, w.args...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("get edits: %w", err)
	}
	defer rows.Close()

	var all []Edit
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, Page{}, err
		}
		edit := Edit{Event: e}
		edit.FilePath, edit.OldString, edit.NewString = parseEditArgs(e.ToolArgsJSON)
		if f.FilePath != "" && !strings.Contains(edit.FilePath, f.FilePath) {
			continue
		}
		all = append(all, edit)
	}
	if err := rows.Err(); err != nil {
		return nil, Page{}, err
	}

	total := len(all)
	if offset >= len(all) {
		return nil, Page{Total: total, Limit: limit, Offset: offset}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], Page{Total: total, Limit: limit, Offset: offset}, nil
}

func parseEditArgs(argsJSON string) (filePath, oldString, newString string) {
	if argsJSON == "" {
		return "", "", ""
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", "", ""
	}
	for _, key := range editPathKeys {
		if v, ok := args[key].(string); ok && v != "" {
			filePath = v
			break
		}
	}
	if v, ok := args["old_string"].(string); ok {
		oldString = v
	} else if v, ok := args["oldString"].(string); ok {
		oldString = v
	}
	if v, ok := args["new_string"].(string); ok {
		newString = v
	} else if v, ok := args["newString"].(string); ok {
		newString = v
	}
	return filePath, oldString, newString
}

// extractCommitStats pulls insertions/deletions totals out of a
// git_commit event's meta_json numstat block.
func extractCommitStats(metaJSON string) (insertions, deletions int) {
	if metaJSON == "" {
		return 0, 0
	}
	var meta struct {
		Files []struct {
			Insertions int `json:"insertions"`
			Deletions  int `json:"deletions"`
		} `json:"files"`
	}
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return 0, 0
	}
	for _, f := range meta.Files {
		insertions += f.Insertions
		deletions += f.Deletions
	}
	return insertions, deletions
}
