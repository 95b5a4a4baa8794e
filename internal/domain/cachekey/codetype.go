package cachekey

// CodeType names the coding system an issue code belongs to.
type CodeType string

const (
	CodeICD9        CodeType = "ICD9"
	CodeICD10       CodeType = "ICD10"
	CodeSNOMED      CodeType = "SNOMED"
	CodeSNOMEDCore  CodeType = "SNOMED_CORE"
	CodeDrug        CodeType = "DRUG"
	CodePrevention  CodeType = "PREVENTION"
	CodeCustomIssue CodeType = "CUSTOM_ISSUE"
	CodeSystem      CodeType = "SYSTEM"
)

var codeTypes = map[CodeType]bool{
	CodeICD9:        true,
	CodeICD10:       true,
	CodeSNOMED:      true,
	CodeSNOMEDCore:  true,
	CodeDrug:        true,
	CodePrevention:  true,
	CodeCustomIssue: true,
	CodeSystem:      true,
}

func (c CodeType) Valid() bool { return codeTypes[c] }
