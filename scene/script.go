package scene

import (
	"fmt"
	"strconv"
	"strings"
)

// RunScript evaluates a small line-oriented scene language. Lines are
// separated by newlines or ';'. A single query line is evaluated as an
// expression and its value returned; anything else runs as statements.
//
// Queries:
//
//	count
//	list
//	get <object> [location|rotation|scale|visible|type|materials]
//
// Statements:
//
//	set <object> location|rotation|scale <x> <y> <z>
//	show <object>
//	hide <object>
//	rename <object> <new name>
//	delete <object>
func (m *Memory) RunScript(code string) (any, bool, error) {
	lines := splitScript(code)
	if len(lines) == 0 {
		return nil, false, fmt.Errorf("%w: empty script", ErrScript)
	}

	if len(lines) == 1 && isQuery(lines[0]) {
		v, err := m.query(lines[0])
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	}

	for i, line := range lines {
		var err error
		if isQuery(line) {
			_, err = m.query(line)
		} else {
			err = m.statement(line)
		}
		if err != nil {
			return nil, false, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil, false, nil
}

func splitScript(code string) [][]string {
	var out [][]string
	for _, raw := range strings.FieldsFunc(code, func(r rune) bool { return r == '\n' || r == ';' }) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		out = append(out, strings.Fields(raw))
	}
	return out
}

func isQuery(fields []string) bool {
	switch fields[0] {
	case "count", "list", "get":
		return true
	}
	return false
}

func (m *Memory) query(fields []string) (any, error) {
	switch fields[0] {
	case "count":
		return len(m.order), nil
	case "list":
		names := make([]string, len(m.order))
		copy(names, m.order)
		return names, nil
	case "get":
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("%w: usage: get <object> [property]", ErrScript)
		}
		o, err := m.Object(fields[1])
		if err != nil {
			return nil, err
		}
		if len(fields) == 2 {
			return map[string]any{
				"name":     o.Name,
				"type":     string(o.Kind),
				"location": o.Location,
				"rotation": o.Rotation,
				"scale":    o.Scale,
				"visible":  o.Visible,
			}, nil
		}
		switch fields[2] {
		case "location":
			return o.Location, nil
		case "rotation":
			return o.Rotation, nil
		case "scale":
			return o.Scale, nil
		case "visible":
			return o.Visible, nil
		case "type":
			return string(o.Kind), nil
		case "materials":
			return o.Materials, nil
		}
		return nil, fmt.Errorf("%w: unknown property %q", ErrScript, fields[2])
	}
	return nil, fmt.Errorf("%w: unknown query %q", ErrScript, fields[0])
}

func (m *Memory) statement(fields []string) error {
	switch fields[0] {
	case "set":
		if len(fields) != 6 {
			return fmt.Errorf("%w: usage: set <object> <property> <x> <y> <z>", ErrScript)
		}
		var v Vec3
		for i := range 3 {
			f, err := strconv.ParseFloat(fields[3+i], 64)
			if err != nil {
				return fmt.Errorf("%w: invalid number %q", ErrScript, fields[3+i])
			}
			v[i] = f
		}
		var u ObjectUpdate
		switch fields[2] {
		case "location":
			u.Location = &v
		case "rotation":
			u.Rotation = &v
		case "scale":
			u.Scale = &v
		default:
			return fmt.Errorf("%w: cannot set %q", ErrScript, fields[2])
		}
		_, err := m.UpdateObject(fields[1], u)
		return err
	case "show", "hide":
		if len(fields) != 2 {
			return fmt.Errorf("%w: usage: %s <object>", ErrScript, fields[0])
		}
		visible := fields[0] == "show"
		_, err := m.UpdateObject(fields[1], ObjectUpdate{Visible: &visible})
		return err
	case "rename":
		if len(fields) != 3 {
			return fmt.Errorf("%w: usage: rename <object> <new name>", ErrScript)
		}
		_, err := m.RenameObject(fields[1], fields[2])
		return err
	case "delete":
		if len(fields) != 2 {
			return fmt.Errorf("%w: usage: delete <object>", ErrScript)
		}
		return m.DeleteObject(fields[1])
	}
	return fmt.Errorf("%w: unknown statement %q", ErrScript, fields[0])
}
