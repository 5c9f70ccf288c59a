//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/repository"
)

type PostgresSuite struct {
	suite.Suite
	driver    string
	container testcontainers.Container
	db        *sql.DB
	repos     repository.Repositories
	ctx       context.Context
}

func TestPostgresLibPQ(t *testing.T) {
	suite.Run(t, &PostgresSuite{driver: DriverPQ})
}

func TestPostgresPGX(t *testing.T) {
	suite.Run(t, &PostgresSuite{driver: DriverPGX})
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "storefront",
			"POSTGRES_PASSWORD": "storefront",
			"POSTGRES_DB":       "storefront",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(s.ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(s.ctx, "5432")
	s.Require().NoError(err)

	dsn := fmt.Sprintf("postgres://storefront:storefront@%s:%s/storefront?sslmode=disable", host, port.Port())
	s.db, err = InitDB(s.ctx, s.driver, dsn, 30*time.Second)
	s.Require().NoError(err)
	s.repos = NewRepositories(s.db)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(s.ctx))
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, "TRUNCATE items, users, orders, order_events RESTART IDENTITY")
	s.Require().NoError(err)
}

func (s *PostgresSuite) createItem(name, price string, stock int) entity.Item {
	item, err := s.repos.Items.Create(s.ctx, entity.Item{ItemName: name, Price: decimal.RequireFromString(price), Stock: stock})
	s.Require().NoError(err)
	return item
}

func (s *PostgresSuite) TestReserveAndRecord() {
	item := s.createItem("Backpack", "129.99", 3)
	user, err := s.repos.Users.Create(s.ctx, entity.User{Username: "ann"})
	s.Require().NoError(err)

	reserved, order, err := s.repos.Ledger.ReserveAndRecord(s.ctx, user.ID, item.ID, 3)
	s.Require().NoError(err)
	s.Equal(3, reserved.Stock)
	s.Equal(0, reserved.Remaining)
	s.True(reserved.Price.Equal(decimal.RequireFromString("129.99")))
	s.Equal(3, order.StockNumber)

	found, err := s.repos.Orders.FindByID(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(user.ID, found.UserID)

	_, _, err = s.repos.Ledger.ReserveAndRecord(s.ctx, user.ID, item.ID, 1)
	var oos *entity.OutOfStockError
	s.Require().ErrorAs(err, &oos)
	s.Equal(0, oos.Available)

	orders, err := s.repos.Orders.FindAll(s.ctx)
	s.Require().NoError(err)
	s.Len(orders, 1)
}

func (s *PostgresSuite) TestReserveErrors() {
	item := s.createItem("Lamp", "9.99", 2)

	_, err := s.repos.Ledger.Reserve(s.ctx, 999, 1)
	s.ErrorIs(err, entity.ErrNotFound)

	_, err = s.repos.Ledger.Reserve(s.ctx, item.ID, 0)
	s.ErrorIs(err, entity.ErrInvalidInput)

	_, err = s.repos.Ledger.Reserve(s.ctx, item.ID, 5)
	s.ErrorIs(err, entity.ErrOutOfStock)

	_, err = s.repos.Ledger.Reserve(s.ctx, item.ID, 3_000_000_000)
	var oos *entity.OutOfStockError
	s.Require().ErrorAs(err, &oos)
	s.Equal(3_000_000_000, oos.Requested)
	s.Equal(2, oos.Available)

	got, err := s.repos.Items.FindByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(2, got.Stock)
}

func (s *PostgresSuite) TestStockBeyondInt32() {
	item := s.createItem("Bolt", "0.05", 3_000_000_000)

	reserved, order, err := s.repos.Ledger.ReserveAndRecord(s.ctx, 1, item.ID, 2_500_000_000)
	s.Require().NoError(err)
	s.Equal(3_000_000_000, reserved.Stock)
	s.Equal(500_000_000, reserved.Remaining)
	s.Equal(2_500_000_000, order.StockNumber)
}

func (s *PostgresSuite) TestConcurrentReservationsNeverOvercommit() {
	item := s.createItem("Monitor", "699.99", 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.repos.Ledger.ReserveAndRecord(context.Background(), 1, item.ID, 3)
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if !errors.Is(err, entity.ErrOutOfStock) {
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(3, success)
	got, err := s.repos.Items.FindByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(1, got.Stock)

	orders, err := s.repos.Orders.FindAll(s.ctx)
	s.Require().NoError(err)
	s.Len(orders, 3)
}

func (s *PostgresSuite) TestItemFilterAndUpdates() {
	kb := s.createItem("Mechanical Keyboard", "179.99", 120)
	s.createItem("Keyboard Cover", "9.50", 0)
	s.createItem("Desk Lamp", "89.99", 200)

	minPrice := decimal.RequireFromString("10")
	minStock := 1
	items, err := s.repos.Items.Filter(s.ctx, entity.ItemFilter{Name: "Keyboard", MinPrice: &minPrice, MinStock: &minStock})
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(kb.ID, items[0].ID)

	count, err := s.repos.Items.Count(s.ctx, entity.ItemFilter{Name: "Keyboard"})
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	zero := 0
	n, err := s.repos.Items.UpdateAll(s.ctx, entity.ItemPatch{Stock: &zero}, entity.ItemFilter{Name: "Lamp"})
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	name := "TKL Keyboard"
	s.Require().NoError(s.repos.Items.UpdateByID(s.ctx, kb.ID, entity.ItemPatch{ItemName: &name}))
	got, err := s.repos.Items.FindByID(s.ctx, kb.ID)
	s.Require().NoError(err)
	s.Equal("TKL Keyboard", got.ItemName)
	s.Equal(120, got.Stock)

	s.Require().NoError(s.repos.Items.DeleteByID(s.ctx, kb.ID))
	s.ErrorIs(s.repos.Items.DeleteByID(s.ctx, kb.ID), entity.ErrNotFound)
	s.ErrorIs(s.repos.Items.UpdateByID(s.ctx, kb.ID, entity.ItemPatch{ItemName: &name}), entity.ErrNotFound)
}

func (s *PostgresSuite) TestEventStoreVersioning() {
	event := entity.OrderCreated{OrderID: 1, UserID: 2, ItemID: 3, ItemName: "Chair", Quantity: 1}

	s.Require().NoError(s.repos.Events.SaveEvents(s.ctx, "1", "order", 0, []entity.Event{event}))
	err := s.repos.Events.SaveEvents(s.ctx, "1", "order", 0, []entity.Event{event})
	var conflict *entity.VersionConflictError
	s.Require().ErrorAs(err, &conflict)
	s.Equal("1", conflict.StreamID)
	s.Equal(0, conflict.Expected)

	s.ErrorIs(s.repos.Events.SaveEvents(s.ctx, "1", "order", 5, []entity.Event{event}), entity.ErrVersionConflict)

	records, err := s.repos.Events.LoadEvents(s.ctx, "1")
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(1, records[0].Version)
	s.Equal("OrderCreated", records[0].EventType)
}

func (s *PostgresSuite) TestConcurrentAppendsConflict() {
	event := entity.OrderCreated{OrderID: 9, ItemName: "Desk", Quantity: 1}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.repos.Events.SaveEvents(context.Background(), "9", "order", 0, []entity.Event{event})
		}(i)
	}
	wg.Wait()

	var saved int
	for _, err := range errs {
		if err == nil {
			saved++
			continue
		}
		s.ErrorIs(err, entity.ErrVersionConflict)
	}
	s.Equal(1, saved)

	records, err := s.repos.Events.LoadEvents(s.ctx, "9")
	s.Require().NoError(err)
	s.Len(records, 1)
	s.JSONEq(`{"order_id":9,"user_id":0,"item_id":0,"item_name":"Desk","quantity":1,"remaining":0,"created_at":"0001-01-01T00:00:00Z"}`, string(records[0].Payload))
}
