package student

import "github.com/shopspring/decimal"

// Student is the directory's view of an enrolled student. The engine only
// reads it.
type Student struct {
	Ref        string              `json:"student_ref" db:"student_ref" gorm:"column:student_ref;primaryKey"`
	Name       string              `json:"name" db:"name" gorm:"column:name;not null"`
	GuardianID string              `json:"guardian_id" db:"guardian_id" gorm:"column:guardian_id;index"`
	MonthlyFee decimal.NullDecimal `json:"monthly_fee" db:"monthly_fee" gorm:"column:monthly_fee;type:numeric(12,2)"`
	Active     bool                `json:"active" db:"active" gorm:"column:active;not null;default:true"`
	RouteID    *string             `json:"route_id,omitempty" db:"route_id" gorm:"column:route_id"`
	RouteName  *string             `json:"route_name,omitempty" db:"route_name" gorm:"column:route_name"`
	BusID      *string             `json:"bus_id,omitempty" db:"bus_id" gorm:"column:bus_id"`
	BusLabel   *string             `json:"bus_label,omitempty" db:"bus_label" gorm:"column:bus_label"`
}

func (Student) TableName() string {
	return "students"
}

// Assignment is a student's current route and bus.
type Assignment struct {
	StudentRef string `json:"student_ref"`
	RouteID    string `json:"route_id"`
	RouteName  string `json:"route_name"`
	BusID      string `json:"bus_id"`
	BusLabel   string `json:"bus_label"`
}

const Unassigned = "unassigned"

func (s Student) Assignment() Assignment {
	a := Assignment{StudentRef: s.Ref, RouteID: Unassigned, RouteName: Unassigned, BusID: Unassigned, BusLabel: Unassigned}
	if s.RouteID != nil {
		a.RouteID = *s.RouteID
		a.RouteName = *s.RouteID
	}
	if s.RouteName != nil {
		a.RouteName = *s.RouteName
	}
	if s.BusID != nil {
		a.BusID = *s.BusID
		a.BusLabel = *s.BusID
	}
	if s.BusLabel != nil {
		a.BusLabel = *s.BusLabel
	}
	return a
}
