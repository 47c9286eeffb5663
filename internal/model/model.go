package model

import "time"

// Role values form a closed set; anything else is rejected at the
// validation boundary, not the storage layer.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleParent  = "parent"
)

func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RoleParent:
		return true
	default:
		return false
	}
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	ProfileImage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Metadata     []byte
}

type StudentProfile struct {
	UserID       string
	Grade        string
	Subjects     []string
	ParentID     *string
	SchoolID     *string
	MoodleUserID *int32
}

type TeacherProfile struct {
	UserID       string
	Subjects     []string
	Grades       []string
	SchoolID     *string
	Department   *string
	MoodleUserID *int32
}

type ParentProfile struct {
	UserID      string
	ChildrenIDs []string
	Occupation  *string
}
