package classifier

// Stream values.
const (
	StreamMedical    = "Medical"
	StreamDental     = "Dental"
	StreamAYUSH      = "AYUSH"
	StreamVeterinary = "Veterinary"
	StreamNursing    = "Nursing"
)

// Level of study values.
const (
	LevelUndergraduate  = "Undergraduate"
	LevelPostgraduate   = "Postgraduate"
	LevelSuperSpecialty = "Super Specialty"
)

func rule(f Field, value string, all ...string) Rule {
	return Rule{Field: f, All: all, Value: value}
}

// DefaultRules returns the built-in rule table. Order matters because terms
// match as substrings: MDS is checked before MD, BDS before MBBS, the AYUSH
// degrees (BAMS, BHMS, ...) before MS, and the DNB-with-diploma branch
// before plain DNB.
func DefaultRules() []Rule {
	return []Rule{
		// Stream.
		rule(FieldStream, StreamDental, "MDS"),
		rule(FieldStream, StreamDental, "BDS"),
		rule(FieldStream, StreamDental, "DENTAL"),
		rule(FieldStream, StreamAYUSH, "BAMS"),
		rule(FieldStream, StreamAYUSH, "BHMS"),
		rule(FieldStream, StreamAYUSH, "BUMS"),
		rule(FieldStream, StreamAYUSH, "BSMS"),
		rule(FieldStream, StreamAYUSH, "AYURVEDA"),
		rule(FieldStream, StreamAYUSH, "HOMOEOPATHY"),
		rule(FieldStream, StreamVeterinary, "BVSC"),
		rule(FieldStream, StreamVeterinary, "VETERINARY"),
		rule(FieldStream, StreamNursing, "NURSING"),
		rule(FieldStream, StreamMedical, "MBBS"),
		rule(FieldStream, StreamMedical, "MD"),
		rule(FieldStream, StreamMedical, "MS"),
		rule(FieldStream, StreamMedical, "DNB"),
		rule(FieldStream, StreamMedical, "DM"),
		rule(FieldStream, StreamMedical, "MCH"),
		rule(FieldStream, StreamMedical, "FNB"),
		rule(FieldStream, StreamMedical, "DIPLOMA"),

		// Degree type.
		rule(FieldDegreeType, "MDS", "MDS"),
		rule(FieldDegreeType, "BDS", "BDS"),
		rule(FieldDegreeType, "MBBS", "MBBS"),
		rule(FieldDegreeType, "DNB", "DNB"),
		rule(FieldDegreeType, "BAMS", "BAMS"),
		rule(FieldDegreeType, "BHMS", "BHMS"),
		rule(FieldDegreeType, "BUMS", "BUMS"),
		rule(FieldDegreeType, "BSMS", "BSMS"),
		rule(FieldDegreeType, "BVSc", "BVSC"),
		rule(FieldDegreeType, "MCh", "MCH"),
		rule(FieldDegreeType, "DM", "DM"),
		rule(FieldDegreeType, "MD", "MD"),
		rule(FieldDegreeType, "MS", "MS"),
		rule(FieldDegreeType, "FNB", "FNB"),
		rule(FieldDegreeType, "BSc", "BSC"),
		rule(FieldDegreeType, "Diploma", "DIPLOMA"),

		// Branch.
		rule(FieldBranch, "DNB-Diploma", "DNB", "DIPLOMA"),
		rule(FieldBranch, "DNB", "DNB"),
		rule(FieldBranch, "PG Diploma", "PG", "DIPLOMA"),
		rule(FieldBranch, "General Medicine", "GENERAL", "MEDICINE"),
		rule(FieldBranch, "General Surgery", "GENERAL", "SURGERY"),
		rule(FieldBranch, "Community Medicine", "COMMUNITY", "MEDICINE"),
		rule(FieldBranch, "Preventive and Social Medicine", "PSM"),
		rule(FieldBranch, "Obstetrics and Gynaecology", "OBSTETRICS"),
		rule(FieldBranch, "Obstetrics and Gynaecology", "OBG"),
		rule(FieldBranch, "Paediatrics", "PAEDIATRICS"),
		rule(FieldBranch, "Paediatrics", "PEDIATRICS"),
		rule(FieldBranch, "Orthopaedics", "ORTHOPAEDICS"),
		rule(FieldBranch, "Orthopaedics", "ORTHOPEDICS"),
		rule(FieldBranch, "Anaesthesiology", "ANAESTHESIOLOGY"),
		rule(FieldBranch, "Anaesthesiology", "ANESTHESIOLOGY"),
		rule(FieldBranch, "Anaesthesiology", "ANAESTHESIA"),
		rule(FieldBranch, "Radio-Diagnosis", "RADIO", "DIAGNOSIS"),
		rule(FieldBranch, "Radio-Diagnosis", "RADIODIAGNOSIS"),
		rule(FieldBranch, "Radiation Oncology", "RADIOTHERAPY"),
		rule(FieldBranch, "Radiation Oncology", "RADIATION", "ONCOLOGY"),
		rule(FieldBranch, "Dermatology", "DERMATOLOGY"),
		rule(FieldBranch, "Psychiatry", "PSYCHIATRY"),
		rule(FieldBranch, "Ophthalmology", "OPHTHALMOLOGY"),
		rule(FieldBranch, "Otorhinolaryngology", "OTORHINOLARYNGOLOGY"),
		rule(FieldBranch, "Otorhinolaryngology", " ENT "),
		rule(FieldBranch, "Pathology", "PATHOLOGY"),
		rule(FieldBranch, "Microbiology", "MICROBIOLOGY"),
		rule(FieldBranch, "Pharmacology", "PHARMACOLOGY"),
		rule(FieldBranch, "Anatomy", "ANATOMY"),
		rule(FieldBranch, "Physiology", "PHYSIOLOGY"),
		rule(FieldBranch, "Biochemistry", "BIOCHEMISTRY"),
		rule(FieldBranch, "Forensic Medicine", "FORENSIC"),
		rule(FieldBranch, "Emergency Medicine", "EMERGENCY"),
		rule(FieldBranch, "Respiratory Medicine", "RESPIRATORY"),
		rule(FieldBranch, "Respiratory Medicine", "PULMONARY"),
		rule(FieldBranch, "Cardiology", "CARDIOLOGY"),
		rule(FieldBranch, "Neurology", "NEUROLOGY"),
		rule(FieldBranch, "Nephrology", "NEPHROLOGY"),
		rule(FieldBranch, "Orthodontics", "ORTHODONTICS"),
		rule(FieldBranch, "Periodontology", "PERIODONTOLOGY"),
		rule(FieldBranch, "Prosthodontics", "PROSTHODONTICS"),
		rule(FieldBranch, "Oral and Maxillofacial Surgery", "MAXILLOFACIAL"),
		rule(FieldBranch, "MBBS", "MBBS"),
		rule(FieldBranch, "BDS", "BDS"),

		// Level of study.
		rule(FieldLevel, LevelUndergraduate, "BAMS"),
		rule(FieldLevel, LevelUndergraduate, "BHMS"),
		rule(FieldLevel, LevelUndergraduate, "BUMS"),
		rule(FieldLevel, LevelUndergraduate, "BSMS"),
		rule(FieldLevel, LevelSuperSpecialty, "DM"),
		rule(FieldLevel, LevelSuperSpecialty, "MCH"),
		rule(FieldLevel, LevelSuperSpecialty, "FNB"),
		rule(FieldLevel, LevelPostgraduate, "MDS"),
		rule(FieldLevel, LevelPostgraduate, "MD"),
		rule(FieldLevel, LevelPostgraduate, "MS"),
		rule(FieldLevel, LevelPostgraduate, "DNB"),
		rule(FieldLevel, LevelPostgraduate, "DIPLOMA"),
		rule(FieldLevel, LevelUndergraduate, "MBBS"),
		rule(FieldLevel, LevelUndergraduate, "BDS"),
		rule(FieldLevel, LevelUndergraduate, "BVSC"),
		rule(FieldLevel, LevelUndergraduate, "BSC"),
	}
}
