package cmd

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/transport-fees/internal/core/datamodel/student"
)

var clearData bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the student directory with sample students, routes and buses for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()

		gdb, db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		if clearData {
			err := gdb.Transaction(func(tx *gorm.DB) error {
				for _, table := range []string{"waiver_requests", "gateway_events", "audit_entries", "fee_records", "students"} {
					if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
						return fmt.Errorf("clear %s: %w", table, err)
					}
				}
				return nil
			})
			if err != nil {
				log.Fatalf("failed to clear data: %v", err)
			}
			fmt.Println("Cleared existing data")
		}

		ptr := func(s string) *string { return &s }
		fee := func(v int64) decimal.NullDecimal {
			return decimal.NullDecimal{Decimal: decimal.NewFromInt(v), Valid: true}
		}

		students := []student.Student{
			{Ref: "STU-001", Name: "Aarav Shah", GuardianID: "guardian-1", MonthlyFee: fee(2500), Active: true,
				RouteID: ptr("R-NORTH"), RouteName: ptr("North Loop"), BusID: ptr("BUS-01"), BusLabel: ptr("Bus 1")},
			{Ref: "STU-002", Name: "Diya Shah", GuardianID: "guardian-1", MonthlyFee: fee(2500), Active: true,
				RouteID: ptr("R-NORTH"), RouteName: ptr("North Loop"), BusID: ptr("BUS-02"), BusLabel: ptr("Bus 2")},
			{Ref: "STU-003", Name: "Kabir Rao", GuardianID: "guardian-2", MonthlyFee: fee(3000), Active: true,
				RouteID: ptr("R-EAST"), RouteName: ptr("East Express"), BusID: ptr("BUS-03"), BusLabel: ptr("Bus 3")},
			{Ref: "STU-004", Name: "Meera Iyer", GuardianID: "guardian-3", Active: true},
			{Ref: "STU-005", Name: "Rohan Das", GuardianID: "guardian-3", MonthlyFee: fee(2500), Active: false,
				RouteID: ptr("R-EAST"), RouteName: ptr("East Express")},
		}

		for _, s := range students {
			result := gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&s)
			if result.Error != nil {
				log.Fatalf("failed to insert student %s: %v", s.Ref, result.Error)
			}
			if result.RowsAffected == 0 {
				fmt.Printf("student %s already exists\n", s.Ref)
				continue
			}
			fmt.Printf("Seeded student: %s (%s)\n", s.Ref, s.Name)
		}

		fmt.Println("Students seeded successfully")
	},
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing data before seeding")
}
