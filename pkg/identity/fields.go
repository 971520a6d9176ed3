package identity

// Synthetic field names. Field mappings in masking rules refer to these.
const (
	FieldFirstName    = "first_name"
	FieldLastName     = "last_name"
	FieldFullName     = "full_name"
	FieldGender       = "gender"
	FieldDOB          = "dob"
	FieldStreet       = "street"
	FieldCity         = "city"
	FieldState        = "state"
	FieldPostalCode   = "postal_code"
	FieldAddress      = "address"
	FieldPhone        = "phone"
	FieldEmail        = "email"
	FieldPatientID    = "patient_id"
	FieldRecordNumber = "record_number"

	FieldProviderName    = "provider_name"
	FieldPractitioner    = "practitioner"
	FieldFacilityName    = "facility_name"
	FieldFacilityGUID    = "facility_guid"
	FieldAppointmentType = "appointment_type"
	FieldStatus          = "status"
	FieldDiagnosis       = "diagnosis"
	FieldDrugName        = "drug_name"
	FieldGenericName     = "generic_name"
)

// CoreFields are always generated, in draw order, followed by the derived fields.
var CoreFields = []string{
	FieldFirstName, FieldLastName, FieldGender, FieldDOB,
	FieldStreet, FieldCity, FieldState, FieldPostalCode,
	FieldPhone, FieldEmail, FieldPatientID, FieldRecordNumber,
}

// DerivedFields are computed from core fields without consuming the random stream.
var DerivedFields = []string{FieldFullName, FieldAddress}

// ExtraFields lists the optional domain fields in draw order. Configured extras
// are always drawn in this order regardless of how they are listed.
var ExtraFields = []string{
	FieldProviderName, FieldPractitioner, FieldFacilityName, FieldFacilityGUID,
	FieldAppointmentType, FieldStatus, FieldDiagnosis, FieldDrugName, FieldGenericName,
}

// IsKnownField reports whether name is a field the generator can produce.
func IsKnownField(name string) bool {
	for _, set := range [][]string{CoreFields, DerivedFields, ExtraFields} {
		for _, f := range set {
			if f == name {
				return true
			}
		}
	}
	return false
}

func isExtra(name string) bool {
	for _, f := range ExtraFields {
		if f == name {
			return true
		}
	}
	return false
}

var (
	genders = []string{"M", "F", "Other"}

	appointmentTypes = []string{"General Checkup", "Consultation", "Follow-up", "Urgent Care"}

	appointmentStatuses = []string{"Scheduled", "Completed", "Cancelled", "No Show"}

	diagnoses = []string{
		"Type 2 diabetes mellitus without complications",
		"Essential (primary) hypertension",
		"Hyperlipidemia, unspecified",
		"Major depressive disorder, single episode",
		"Generalized anxiety disorder",
		"Chronic obstructive pulmonary disease",
		"Asthma, uncomplicated",
		"Hypothyroidism, unspecified",
		"Osteoarthritis of knee",
		"Gastro-esophageal reflux disease",
		"Low back pain",
		"Vitamin D deficiency",
	}

	drugNames = []string{
		"Glucophage", "Zestril", "Lipitor", "Synthroid", "Norvasc", "Prilosec",
		"Zoloft", "Ventolin", "Lasix", "Neurontin", "Coumadin", "Plavix",
	}

	genericNames = []string{
		"Metformin", "Lisinopril", "Atorvastatin", "Levothyroxine", "Amlodipine", "Omeprazole",
		"Sertraline", "Albuterol", "Furosemide", "Gabapentin", "Warfarin", "Clopidogrel",
	}
)
