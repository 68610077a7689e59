package school

import (
	"time"

	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

// Collections
const (
	KindergartensCollection = "kindergartens"
	BranchesCollection      = "branches"
	ClassesCollection       = "classes"
	StudentsCollection      = "students"
	TeachersCollection      = "teachers"
	DriversCollection       = "drivers"
	GuardiansCollection     = "guardians"
	JobsCollection          = "jobs"
)

// Counter fields kept on parent documents.
const (
	FieldStudentCount       = "studentCount"
	FieldActiveTeacherCount = "activeTeacherCount"
	FieldClassCount         = "classCount"
	FieldBranchCount        = "branchCount"
	FieldStudentIDs         = "studentIds"
	FieldTeacherIDs         = "teacherIds"
	FieldDriverIDs          = "driverIds"
	FieldUpdatedAt          = "updatedAt"
)

type PersonKind string

const (
	KindGuardian PersonKind = "guardian"
	KindTeacher  PersonKind = "teacher"
	KindDriver   PersonKind = "driver"
)

type (
	Kindergarten struct {
		ID                 string    `json:"id"`
		Name               string    `json:"name"`
		ProvinceCode       string    `json:"provinceCode"`
		Address            string    `json:"address"`
		Phone              string    `json:"phone"`
		Email              string    `json:"email"`
		Stages             []string  `json:"stages"`
		AgeRanges          []string  `json:"ageRanges"`
		TeacherIDs         []string  `json:"teacherIds"`
		DriverIDs          []string  `json:"driverIds"`
		StudentCount       int       `json:"studentCount"`
		ActiveTeacherCount int       `json:"activeTeacherCount"`
		ClassCount         int       `json:"classCount"`
		BranchCount        int       `json:"branchCount"`
		Code               string    `json:"code"`
		Active             bool      `json:"active"`
		CreatedAt          time.Time `json:"createdAt"`
		UpdatedAt          time.Time `json:"updatedAt"`
	}

	// Branch belongs to exactly one Kindergarten (ParentID).
	Branch struct {
		ID                 string    `json:"id"`
		ParentID           string    `json:"parentId"`
		Name               string    `json:"name"`
		Address            string    `json:"address"`
		Phone              string    `json:"phone"`
		Email              string    `json:"email"`
		TeacherIDs         []string  `json:"teacherIds"`
		DriverIDs          []string  `json:"driverIds"`
		StudentCount       int       `json:"studentCount"`
		ActiveTeacherCount int       `json:"activeTeacherCount"`
		ClassCount         int       `json:"classCount"`
		Code               string    `json:"code"`
		Active             bool      `json:"active"`
		CreatedAt          time.Time `json:"createdAt"`
		UpdatedAt          time.Time `json:"updatedAt"`
	}

	// Class hangs under its Kindergarten or one of its branches (ParentID); KindergartenID is
	// always the owning kindergarten.
	Class struct {
		ID             string    `json:"id"`
		Name           string    `json:"name"`
		Stage          string    `json:"stage"`
		AgeRanges      []string  `json:"ageRanges"`
		ParentID       string    `json:"parentId"`
		KindergartenID string    `json:"kindergartenId"`
		TeacherID      string    `json:"teacherId"`
		TeacherName    string    `json:"teacherName"`
		StudentIDs     []string  `json:"studentIds"`
		StudentCount   int       `json:"studentCount"`
		CreatedAt      time.Time `json:"createdAt"`
		UpdatedAt      time.Time `json:"updatedAt"`
	}

	ParentInfo struct {
		Name       string `json:"name"`
		Phone      string `json:"phone"`
		Occupation string `json:"occupation"`
	}

	Parents struct {
		Father ParentInfo `json:"father"`
		Mother ParentInfo `json:"mother"`
	}

	Health struct {
		BloodType string   `json:"bloodType"`
		Allergies []string `json:"allergies"`
		Notes     string   `json:"notes"`
	}

	// Student references are optional: an empty ClassID means unassigned.
	Student struct {
		ID                string    `json:"id"`
		FirstName         string    `json:"firstName"`
		LastName          string    `json:"lastName"`
		Gender            string    `json:"gender"`
		BirthDate         string    `json:"birthDate"` // YYYY-MM-DD
		KindergartenID    string    `json:"kindergartenId"`
		BranchID          string    `json:"branchId"`
		ClassID           string    `json:"classId"`
		ClassName         string    `json:"className"`
		ParentID          string    `json:"parentId"`
		PrimaryGuardianID string    `json:"primaryGuardianId"`
		GuardianIDs       []string  `json:"guardianIds"`
		Parents           Parents   `json:"parents"`
		Health            Health    `json:"health"`
		Active            bool      `json:"active"`
		CreatedAt         time.Time `json:"createdAt"`
		UpdatedAt         time.Time `json:"updatedAt"`
	}

	Attachment struct {
		Path       string    `json:"path"`
		URL        string    `json:"url"`
		Name       string    `json:"name"`
		UploadedAt time.Time `json:"uploadedAt"`
	}

	Teacher struct {
		ID             string       `json:"id"`
		PublicID       string       `json:"publicId"`
		FirstName      string       `json:"firstName"`
		LastName       string       `json:"lastName"`
		Phone          string       `json:"phone"`
		Email          string       `json:"email"`
		Specialty      string       `json:"specialty"`
		KindergartenID string       `json:"kindergartenId"`
		BranchID       string       `json:"branchId"`
		Active         bool         `json:"active"`
		Certificates   []Attachment `json:"certificates"`
		CreatedAt      time.Time    `json:"createdAt"`
		UpdatedAt      time.Time    `json:"updatedAt"`
	}

	Driver struct {
		ID             string       `json:"id"`
		PublicID       string       `json:"publicId"`
		FirstName      string       `json:"firstName"`
		LastName       string       `json:"lastName"`
		Phone          string       `json:"phone"`
		Email          string       `json:"email"`
		LicenseNumber  string       `json:"licenseNumber"`
		VehiclePlate   string       `json:"vehiclePlate"`
		KindergartenID string       `json:"kindergartenId"`
		BranchID       string       `json:"branchId"`
		Active         bool         `json:"active"`
		Licenses       []Attachment `json:"licenses"`
		CreatedAt      time.Time    `json:"createdAt"`
		UpdatedAt      time.Time    `json:"updatedAt"`
	}

	Guardian struct {
		ID           string    `json:"id"`
		PublicID     string    `json:"publicId"`
		FirstName    string    `json:"firstName"`
		LastName     string    `json:"lastName"`
		Phone        string    `json:"phone"`
		Email        string    `json:"email"`
		Relationship string    `json:"relationship"`
		Address      string    `json:"address"`
		Active       bool      `json:"active"`
		StudentIDs   []string  `json:"studentIds"`
		CreatedAt    time.Time `json:"createdAt"`
		UpdatedAt    time.Time `json:"updatedAt"`
	}
)

// BranchID returns the branch the class hangs under, or "" when it sits directly under its kindergarten.
func (c Class) BranchID() string {
	if c.ParentID == c.KindergartenID {
		return ""
	}
	return c.ParentID
}

func (s Student) FullName() string  { return joinName(s.FirstName, s.LastName) }
func (t Teacher) FullName() string  { return joinName(t.FirstName, t.LastName) }
func (d Driver) FullName() string   { return joinName(d.FirstName, d.LastName) }
func (g Guardian) FullName() string { return joinName(g.FirstName, g.LastName) }

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}

// nullable maps an empty reference to a stored null.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encode converts an entity to a document, storing empty references as null.
func encode(v interface{}, refs ...string) (docstore.Data, error) {
	data, err := docstore.Encode(v)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if s, ok := data[ref].(string); ok && s == "" {
			data[ref] = nil
		}
	}
	return data, nil
}

var studentRefs = []string{"kindergartenId", "branchId", "classId", "className", "parentId", "primaryGuardianId"}
var staffRefs = []string{"kindergartenId", "branchId"}
var classRefs = []string{"teacherId", "teacherName"}
