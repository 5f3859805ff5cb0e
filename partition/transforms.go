package partition

import (
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/gojsonutils"
)

type (
	// Plan derives one partition column from a row: Func is applied to Args
	// and the result is stored under As.
	Plan struct {
		Func string
		Args []string
		As   string
	}

	TransformFunc func(row map[string]any, args []string) (string, error)
)

var (
	Functions = make(map[string]TransformFunc)

	ErrFuncNotFound = errors.New("partition function not found")

	ErrMissingArgs       = errors.New("missing args")
	ErrMissingColumns    = errors.New("missing one or more columns specified in args")
	ErrInvalidColumnType = errors.New("invalid column type")
	ErrNotFlatMap        = errors.New("not a flat map")
)

func init() {
	RegisterFunctions()
}

func RegisterFunctions() {
	Functions["identity"] = func(row map[string]any, args []string) (string, error) {
		if len(args) == 0 {
			return "", ErrMissingArgs
		}
		value, exists := row[args[0]]
		if !exists {
			return "", ErrMissingColumns
		}
		switch v := value.(type) {
		case string:
			return v, nil
		case float64:
			return fmt.Sprint(v), nil
		case bool:
			return fmt.Sprint(v), nil
		default:
			return "", ErrInvalidColumnType
		}
	}
	Functions["toDay"] = timeTransform(func(t time.Time) string { return fmt.Sprint(t.Day()) })
	Functions["toMonth"] = timeTransform(func(t time.Time) string { return fmt.Sprint(int(t.Month())) })
	Functions["toYear"] = timeTransform(func(t time.Time) string { return fmt.Sprint(t.Year()) })
	Functions["toYearDay"] = timeTransform(func(t time.Time) string { return fmt.Sprint(t.YearDay()) })
	Functions["toYearWeek"] = timeTransform(func(t time.Time) string {
		_, week := t.ISOWeek()
		return fmt.Sprint(week)
	})
	Functions["toWeekDay"] = timeTransform(func(t time.Time) string { return fmt.Sprint(int(t.Weekday())) })
}

func timeTransform(format func(t time.Time) string) TransformFunc {
	return func(row map[string]any, args []string) (string, error) {
		t, err := parseTimeFunc(row, args)
		if err != nil {
			return "", fmt.Errorf("error in parseTimeFunc: %w", err)
		}
		return format(t), nil
	}
}

// FromRow flattens a (possibly nested) JSON row and applies plans in order.
func FromRow(row map[string]any, plans []Plan) (Key, error) {
	flat, err := gojsonutils.Flatten(row, nil)
	if err != nil {
		return "", fmt.Errorf("error flattening row: %w", err)
	}
	flatMap, ok := flat.(map[string]any)
	if !ok {
		return "", ErrNotFlatMap
	}

	values := make([]Value, 0, len(plans))
	for _, plan := range plans {
		f, ok := Functions[plan.Func]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrFuncNotFound, plan.Func)
		}

		s, err := f(flatMap, plan.Args)
		if err != nil {
			return "", fmt.Errorf("error processing partition function %s: %w", plan.Func, err)
		}
		values = append(values, Value{Name: plan.As, Value: s})
	}
	return NewKey(values...), nil
}

func parseTimeFunc(row map[string]any, args []string) (t time.Time, err error) {
	if len(args) == 0 {
		err = ErrMissingArgs
		return
	}

	key := args[0]

	if key == "now()" {
		return time.Now(), nil
	}

	value, exists := row[key]
	if !exists {
		err = ErrMissingColumns
		return
	}

	if valString, isStr := value.(string); isStr {
		// We have a datetime like YYYY-MM-DDTHH:mm:ss.sssZ
		t, err = time.Parse("2006-01-02T15:04:05.000Z", valString)
		if err != nil {
			err = fmt.Errorf("error in time.Parse for string: %w", err)
		}
		return
	} else if valFloat, isFloat := value.(float64); isFloat {
		// JSON numbers are epoch millis
		return time.UnixMilli(int64(valFloat)).UTC(), nil
	}
	err = ErrInvalidColumnType
	return
}
