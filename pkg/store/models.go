package store

import "time"

// Execution status values reported by the go test runner. Other runner
// outcomes are stored verbatim.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// TestCase holds the latest known metadata of one test identity. It is
// replaced on every execution of any variant of the test.
type TestCase struct {
	Name        string `gorm:"column:name;primaryKey;not null" json:"name" yaml:"name"`
	Markers     string `gorm:"column:markers" json:"markers" yaml:"markers"`
	Description string `gorm:"column:description" json:"description" yaml:"description"`
	ClsName     string `gorm:"column:cls_name" json:"cls_name" yaml:"cls_name"`

	Executions []ExecutionRecord `gorm:"foreignKey:TestName;references:Name" json:"executions,omitempty" yaml:"executions,omitempty"`
}

// TableName pins the table name so external reporting tools can rely on it.
func (TestCase) TableName() string { return "test_cases" }

// ExecutionRecord is one invocation of a test, including every parametrized
// variant and re-run.
type ExecutionRecord struct {
	ExecutionID uint    `gorm:"column:execution_id;primaryKey;autoIncrement" json:"execution_id" yaml:"execution_id"`
	TestName    string  `gorm:"column:test_name;not null;index" json:"test_name" yaml:"test_name"`
	Params      string  `gorm:"column:params" json:"params" yaml:"params"`
	Status      string  `gorm:"column:status;index" json:"status" yaml:"status"`
	Expected    string  `gorm:"column:expected" json:"expected" yaml:"expected"`
	Result      string  `gorm:"column:result" json:"result" yaml:"result"`
	Duration    float64 `gorm:"column:duration" json:"duration" yaml:"duration"`

	// Timestamp is left zero on insert so the database default applies.
	Timestamp time.Time `gorm:"column:timestamp;default:CURRENT_TIMESTAMP" json:"timestamp" yaml:"timestamp"`

	HTML    string `gorm:"column:html" json:"html" yaml:"html"`
	Text    string `gorm:"column:text" json:"text" yaml:"text"`
	Picture string `gorm:"column:picture" json:"picture" yaml:"picture"`
	Extras  string `gorm:"column:extras;type:text" json:"extras" yaml:"extras"`
}

// TableName pins the table name so external reporting tools can rely on it.
func (ExecutionRecord) TableName() string { return "execution_table" }

// ExecutionFilter narrows ListExecutions. Zero values match everything.
type ExecutionFilter struct {
	TestName string
	Status   string
	// Limit caps the number of rows; zero means no limit.
	Limit int
	// SlowestFirst orders by duration descending instead of insertion order.
	SlowestFirst bool
}

// StatusCount aggregates executions sharing one status.
type StatusCount struct {
	Status        string  `json:"status" yaml:"status"`
	Count         int64   `json:"count" yaml:"count"`
	TotalDuration float64 `json:"total_duration" yaml:"total_duration"`
}
