package domain

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Layouts for the civil date and wall-clock strings carried by records.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// MaxCount is the largest count a record may carry. Stores keep counts in
// 32-bit integer columns.
const MaxCount = math.MaxInt32

// recordValidate checks struct-tag constraints on records. Custom tags are
// registered in init.
var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New(validator.WithRequiredStructEnabled())
	recordValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = recordValidate.RegisterValidation("civildate", validateCivilDate)
	_ = recordValidate.RegisterValidation("clocktime", validateClockTime)
	_ = recordValidate.RegisterValidation("cycletype", validateCycleType)
	_ = recordValidate.RegisterValidation("nextplan", validateNextPlan)
}

func validateCivilDate(fl validator.FieldLevel) bool {
	_, err := ParseDate(fl.Field().String())
	return err == nil
}

func validateClockTime(fl validator.FieldLevel) bool {
	_, err := time.Parse(ClockLayout, fl.Field().String())
	return err == nil
}

func validateCycleType(fl validator.FieldLevel) bool {
	return CycleType(fl.Field().String()).Valid()
}

func validateNextPlan(fl validator.FieldLevel) bool {
	return NextPlan(fl.Field().String()).Valid()
}

// ParseDate parses a calendar date in DateLayout.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Validate checks a record's field constraints and reports every failure as a
// ValidationError for entity.
func Validate(entity EntityType, record any) error {
	err := recordValidate.Struct(record)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationError{Entity: entity, Fields: []FieldError{{Field: "record", Reason: err.Error()}}}
	}
	out := ValidationError{Entity: entity}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, FieldError{Field: fieldPath(fe), Reason: reason(fe)})
	}
	return out
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "civildate":
		return "must be a date in YYYY-MM-DD form"
	case "clocktime":
		return "must be a time in HH:MM form"
	case "cycletype":
		return "must be standard or transfer_only"
	case "nextplan":
		return "must be one of transfer, freeze, pgt"
	default:
		return "failed " + fe.Tag()
	}
}
