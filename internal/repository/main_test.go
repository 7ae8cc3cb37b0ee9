package repository

import (
	"os"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/parlorhq/parlor/internal/entity"
)

// Store tests run against a real MySQL instance because the read-pointer
// upsert and the grouped unread query use MySQL expressions. Point
// PARLOR_TEST_MYSQL_DSN at a throwaway database to enable them.
const testDsnEnv = "PARLOR_TEST_MYSQL_DSN"

var testTables = []string{
	"users", "channels", "channel_members",
	"dm_threads", "dm_thread_members",
	"messages", "reactions", "pins", "read_pointers",
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv(testDsnEnv)
	if dsn == "" {
		t.Skipf("set %s to run store tests against MySQL", testDsnEnv)
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}

	err = db.AutoMigrate(
		&entity.User{},
		&entity.Channel{},
		&entity.ChannelMember{},
		&entity.DmThread{},
		&entity.DmThreadMember{},
		&entity.Message{},
		&entity.Reaction{},
		&entity.Pin{},
		&entity.ReadPointer{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, table := range testTables {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
	return db
}
