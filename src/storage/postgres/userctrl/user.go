package userctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"jobboard/src/core/money"
	"jobboard/src/core/ranking"
	"jobboard/src/core/sponsorship"
)

type Role string

const (
	RoleApplicant Role = "APPLICANT"
	RoleEmployer  Role = "EMPLOYER"
	RoleAdmin     Role = "ADMIN"
)

// User backs both sides of the marketplace: employers carry the ad
// balance and reputation fields, applicants carry the audience profile
// matched against sponsorship targeting.
type User struct {
	ID    int64  `gorm:"primaryKey" json:"id"`
	Email string `gorm:"not null;uniqueIndex" json:"email"`
	Name  string `gorm:"not null" json:"name"`
	Role  string `gorm:"not null;index" json:"role"`

	// AdBalance is in micro-dollars.
	AdBalance int64 `gorm:"not null;default:0" json:"ad_balance"`

	AverageRating  float64 `gorm:"not null;default:0" json:"average_rating"`
	ResponseRate   float64 `gorm:"not null;default:0" json:"response_rate"`
	CompletedHires int     `gorm:"not null;default:0" json:"completed_hires"`
	Verified       bool    `gorm:"not null;default:false" json:"verified"`

	Location        string `json:"location"`
	ExperienceLevel string `json:"experience_level"`
	Education       string `json:"education"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reputation extracts the ranking signals an employer contributes to
// their jobs' organic scores.
func (u *User) Reputation() ranking.EmployerReputation {
	return ranking.EmployerReputation{
		AverageRating:  u.AverageRating,
		ResponseRate:   u.ResponseRate,
		CompletedHires: u.CompletedHires,
		Verified:       u.Verified,
	}
}

type UserService struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewUserService(db *gorm.DB) (*UserService, error) {
	// Initialize snowflake node
	node, err := snowflake.NewNode(2) // Node number 2 for users
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &UserService{
		db:        db,
		snowflake: node,
	}, nil
}

func (s *UserService) Create(ctx context.Context, email, name string, role Role) (*User, error) {
	user := &User{
		ID:    s.snowflake.Generate().Int64(),
		Email: email,
		Name:  name,
		Role:  string(role),
	}

	result := s.db.WithContext(ctx).Create(user)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create user: %v", result.Error)
	}

	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*User, error) {
	var user User
	result := s.db.WithContext(ctx).First(&user, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %v", result.Error)
	}
	return &user, nil
}

// GetEmployer returns the ledger's view of an employer, or (nil, nil)
// when the user is missing or not in the employer role.
func (s *UserService) GetEmployer(ctx context.Context, id int64) (*sponsorship.Employer, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Role != string(RoleEmployer) {
		return nil, nil
	}
	return &sponsorship.Employer{
		ID:      user.ID,
		Balance: money.Money(user.AdBalance),
	}, nil
}

// GetViewerProfile returns the audience profile of an authenticated
// viewer for targeting checks, or (nil, nil) when unknown.
func (s *UserService) GetViewerProfile(ctx context.Context, id int64) (*sponsorship.ViewerProfile, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	return &sponsorship.ViewerProfile{
		Location:        user.Location,
		ExperienceLevel: user.ExperienceLevel,
		Education:       user.Education,
	}, nil
}
