package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal/storage"
	storagePostgres "github.com/frahmantamala/restaurant-pos/internal/storage/postgres"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestStoragePostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Storage Postgres Suite")
}

var _ = Describe("KeyValue Repository", func() {
	var (
		ctx  context.Context
		db   *gorm.DB
		repo storage.Backend
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		// Use SQLite in-memory database for testing
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())

		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)

		Expect(storagePostgres.AutoMigrate(db)).To(Succeed())
		repo = storagePostgres.NewKeyValueRepository(db)
	})

	Describe("Get", func() {
		It("should report missing keys as not found without error", func() {
			v, found, err := repo.Get(ctx, "currentUser")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(v).To(BeEmpty())
		})
	})

	Describe("SetMany", func() {
		It("should insert all entries", func() {
			err := repo.SetMany(ctx, map[string]string{
				"currentUser":     `{"id":"u1"}`,
				"authToken":       "token-1",
				"tokenExpiration": "2026-03-01T10:00:00Z",
			})
			Expect(err).NotTo(HaveOccurred())

			v, found, err := repo.Get(ctx, "authToken")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(v).To(Equal("token-1"))
		})

		It("should replace existing values", func() {
			Expect(repo.SetMany(ctx, map[string]string{"authToken": "token-1"})).To(Succeed())
			Expect(repo.SetMany(ctx, map[string]string{"authToken": "token-2"})).To(Succeed())

			v, _, err := repo.Get(ctx, "authToken")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("token-2"))
		})

		It("should reject an empty key and write nothing", func() {
			err := repo.SetMany(ctx, map[string]string{"": "x", "authToken": "t"})
			Expect(err).To(MatchError(storage.ErrEmptyKey))

			_, found, err := repo.Get(ctx, "authToken")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})
	})

	Describe("RemoveMany", func() {
		BeforeEach(func() {
			Expect(repo.SetMany(ctx, map[string]string{"a": "1", "b": "2", "c": "3"})).To(Succeed())
		})

		It("should remove the given keys only", func() {
			Expect(repo.RemoveMany(ctx, "a", "b")).To(Succeed())

			_, found, _ := repo.Get(ctx, "a")
			Expect(found).To(BeFalse())
			_, found, _ = repo.Get(ctx, "c")
			Expect(found).To(BeTrue())
		})

		It("should be idempotent", func() {
			Expect(repo.RemoveMany(ctx, "a")).To(Succeed())
			Expect(repo.RemoveMany(ctx, "a", "missing")).To(Succeed())
		})
	})
})

var _ = Describe("Notification payload", func() {
	It("should round-trip key and origin without values", func() {
		at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		payload, err := storagePostgres.EncodePayload(storage.Event{Key: "authToken", Origin: "view-1", Removed: true, At: at})
		Expect(err).NotTo(HaveOccurred())
		Expect(payload).NotTo(ContainSubstring("token-"))

		e, err := storagePostgres.DecodePayload(payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Key).To(Equal("authToken"))
		Expect(e.Origin).To(Equal("view-1"))
		Expect(e.Removed).To(BeTrue())
		Expect(e.At.Equal(at)).To(BeTrue())
	})

	It("should reject payloads without a key", func() {
		_, err := storagePostgres.DecodePayload(`{"origin":"view-1"}`)
		Expect(err).To(HaveOccurred())
	})

	It("should reject non-JSON payloads", func() {
		_, err := storagePostgres.DecodePayload("currentUser")
		Expect(err).To(HaveOccurred())
	})
})
