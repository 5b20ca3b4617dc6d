package util

import (
	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("notblank", validateNotBlank)
	validate.RegisterValidation("report_status", validateReportStatus)
	validate.RegisterValidation("priority_level", validatePriorityLevel)
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return NotBlank(fl.Field().String())
}

func validateReportStatus(fl validator.FieldLevel) bool {
	return model.IsKnownStatus(model.ReportStatus(fl.Field().String()))
}

func validatePriorityLevel(fl validator.FieldLevel) bool {
	lvl := fl.Field().Int()
	return lvl >= 1 && lvl <= 5
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}
