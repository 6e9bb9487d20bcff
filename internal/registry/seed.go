package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/a3tai/form-field-mapper/internal/fields"
)

// CanonicalFile is the on-disk layout of a canonical field seed file
type CanonicalFile struct {
	Version string                  `yaml:"version"`
	Fields  []fields.CanonicalField `yaml:"fields"`
}

// LoadCanonicalFile reads canonical field definitions from a YAML file
func LoadCanonicalFile(path string) ([]fields.CanonicalField, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read canonical fields file %s: %w", path, err)
	}

	return ParseCanonical(data)
}

// ParseCanonical parses canonical field definitions. Fields without a data type default to string.
func ParseCanonical(data []byte) ([]fields.CanonicalField, error) {
	var file CanonicalFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse canonical fields YAML: %w", err)
	}

	for i := range file.Fields {
		if file.Fields[i].DataType == "" {
			file.Fields[i].DataType = fields.DataTypeString
		}
		if err := validateField(file.Fields[i]); err != nil {
			return nil, fmt.Errorf("canonical field %d: %w", i, err)
		}
	}
	return file.Fields, nil
}

// Seed adds every field that the registry does not already hold
func Seed(ctx context.Context, r *Registry, list []fields.CanonicalField) (int, error) {
	added := 0
	for _, f := range list {
		if _, exists := r.GetField(f.FieldName); exists {
			continue
		}
		if err := r.AddField(ctx, f); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func required() fields.ValidationRule {
	return fields.ValidationRule{RuleType: "required"}
}

func maxLength(n int) fields.ValidationRule {
	return fields.ValidationRule{RuleType: "max_length", Parameters: map[string]interface{}{"max": n}}
}

func matches(expr, msg string) fields.ValidationRule {
	return fields.ValidationRule{
		RuleType:     "pattern",
		Parameters:   map[string]interface{}{"regex": expr},
		ErrorMessage: msg,
	}
}

// DefaultCanonicalFields returns the built-in master schema seed
func DefaultCanonicalFields() []fields.CanonicalField {
	return []fields.CanonicalField{
		{
			FieldName:       "given_name",
			DataType:        fields.DataTypeString,
			Description:     "First name",
			Aliases:         []string{"GivenName", "FirstName"},
			ValidationRules: []fields.ValidationRule{maxLength(50)},
		},
		{
			FieldName:       "family_name",
			DataType:        fields.DataTypeString,
			Description:     "Last name",
			Aliases:         []string{"FamilyName", "LastName", "Surname"},
			ValidationRules: []fields.ValidationRule{maxLength(50)},
		},
		{
			FieldName:       "middle_name",
			DataType:        fields.DataTypeString,
			Description:     "Middle name",
			Aliases:         []string{"MiddleName"},
			ValidationRules: []fields.ValidationRule{maxLength(50)},
		},
		{
			FieldName:   "alien_number",
			DataType:    fields.DataTypeString,
			Description: "Alien registration number",
			Aliases:     []string{"AlienNumber", "ANumber", "AlienRegistrationNumber"},
			ValidationRules: []fields.ValidationRule{
				matches(`^A?\d{7,9}$`, "must be 7 to 9 digits, optionally prefixed with A"),
			},
		},
		{
			FieldName:   "ssn",
			DataType:    fields.DataTypeString,
			Description: "U.S. Social Security number",
			Aliases:     []string{"SSN", "SocialSecurityNumber", "USSocialSecurityNumber"},
			ValidationRules: []fields.ValidationRule{
				matches(`^\d{3}-?\d{2}-?\d{4}$`, "must be a 9 digit social security number"),
			},
		},
		{
			FieldName:       "uscis_online_account_number",
			DataType:        fields.DataTypeString,
			Description:     "USCIS online account number",
			Aliases:         []string{"USCISOnlineAcctNumber", "USCISOnlineAccountNumber", "AcctIdentifier"},
			ValidationRules: []fields.ValidationRule{maxLength(12)},
		},
		{
			FieldName:   "i94_number",
			DataType:    fields.DataTypeString,
			Description: "Form I-94 arrival-departure record number",
			Aliases:     []string{"I94Number", "I94", "ArrivalDepartureNumber"},
			ValidationRules: []fields.ValidationRule{
				matches(`^[0-9A-Z]{11}$`, "must be 11 characters"),
			},
		},
		{
			FieldName:       "date_of_birth",
			DataType:        fields.DataTypeDate,
			Description:     "Date of birth",
			Aliases:         []string{"DateOfBirth", "DOB", "BirthDate"},
			ValidationRules: []fields.ValidationRule{required()},
		},
		{
			FieldName:   "email",
			DataType:    fields.DataTypeString,
			Description: "Email address",
			Aliases:     []string{"Email", "EmailAddress"},
			ValidationRules: []fields.ValidationRule{
				matches(`^[^@\s]+@[^@\s]+\.[^@\s]+$`, "must be an email address"),
			},
		},
		{
			FieldName:   "daytime_phone",
			DataType:    fields.DataTypeString,
			Description: "Daytime telephone number",
			Aliases:     []string{"DaytimePhoneNumber", "DayPhone", "DaytimePhoneNumber1"},
		},
		{
			FieldName:   "previous_name",
			DataType:    fields.DataTypeArray,
			Description: "Other names used",
			Aliases:     []string{"OtherNames", "OtherNamesUsed", "PriorNames"},
			SubFields:   []string{"given_name", "family_name", "middle_name"},
			MaxItems:    10,
		},
		{
			FieldName:   "address_history",
			DataType:    fields.DataTypeArray,
			Description: "Physical addresses",
			Aliases:     []string{"AddressHistory", "PriorAddresses"},
			SubFields:   []string{"street_number_name", "apt_ste_flr_number", "city_or_town", "state", "zip_code", "province", "postal_code", "country"},
			MaxItems:    10,
		},
		{
			FieldName:   "employer",
			DataType:    fields.DataTypeArray,
			Description: "Employment history",
			Aliases:     []string{"EmploymentHistory", "Employers"},
			SubFields:   []string{"employer_name", "occupation", "date_from", "date_to"},
			MaxItems:    10,
		},
	}
}
