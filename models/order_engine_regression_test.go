package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/models"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var salesOrderNumberRe = regexp.MustCompile(`^SO-\d{8}-\d+$`)

// set by setupIntegrationEnv so tests can fault the cache
var integrationRedisContainer string

func setupIntegrationEnv(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	integrationRedisContainer = redisName
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "orders_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

func createTestBusiness(t *testing.T, ctx context.Context, name string, stockManaged bool) (context.Context, *models.Business) {
	t.Helper()
	flag := utils.NewFalse()
	if stockManaged {
		flag = utils.NewTrue()
	}
	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:           name,
		Email:          strings.ToLower(strings.ReplaceAll(name, " ", "")) + "@test.local",
		IsStockManaged: flag,
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	return utils.SetBusinessIdInContext(ctx, biz.ID.String()), biz
}

func TestSalesOrderEndToEnd(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	ctx, biz := createTestBusiness(t, ctx, "Plain Retail", false)
	businessID := biz.ID.String()
	db := config.GetDB()

	before, err := models.GetBusinessCounters(ctx, db, businessID)
	if err != nil {
		t.Fatalf("GetBusinessCounters: %v", err)
	}

	order, err := models.CreateSalesOrder(ctx, &models.NewSalesOrder{
		CustomerName: "U Ba",
		Totals: models.OrderTotals{
			Subtotal:    decimal.NewFromInt(1000),
			TotalAmount: decimal.NewFromInt(1000),
		},
		Details: []models.NewOrderLine{
			{ItemId: 7, ItemName: "Rice Bag", Qty: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(500), LineTotal: decimal.NewFromInt(1000)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSalesOrder: %v", err)
	}

	if !salesOrderNumberRe.MatchString(order.OrderNumber) {
		t.Fatalf("order number %q does not match SO-YYYYMMDD-n", order.OrderNumber)
	}
	if len(order.Details) != 1 {
		t.Fatalf("expected 1 detail row, got %d", len(order.Details))
	}

	after, err := models.GetBusinessCounters(ctx, db, businessID)
	if err != nil {
		t.Fatalf("GetBusinessCounters: %v", err)
	}
	if after.Invoices != before.Invoices+1 {
		t.Fatalf("invoices counter = %d, want %d", after.Invoices, before.Invoices+1)
	}

	// non-stock-managed businesses write no ledger rows
	var movements int64
	if err := db.Model(&models.StockMovement{}).Where("business_id = ?", businessID).Count(&movements).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if movements != 0 {
		t.Fatalf("expected no stock movements, got %d", movements)
	}
}

func TestSalesOrderLineReconciliation(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	ctx, _ = createTestBusiness(t, ctx, "Reconcile Retail", false)

	order, err := models.CreateSalesOrder(ctx, &models.NewSalesOrder{
		CustomerName: "Daw Mya",
		Totals:       models.OrderTotals{TotalAmount: decimal.NewFromInt(3100)},
		Details: []models.NewOrderLine{
			{ItemId: 1, ItemName: "A", Qty: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(500), LineTotal: decimal.NewFromInt(1000)},
			{ItemId: 2, ItemName: "B", Qty: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(700), LineTotal: decimal.NewFromInt(2100)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSalesOrder: %v", err)
	}
	initialVersion := order.Version

	edit := &models.OrderEdit{Lines: &models.EditLines{
		Lines: []models.NewOrderLine{
			{ItemId: 2, ItemName: "B", Qty: decimal.NewFromInt(5), UnitPrice: decimal.NewFromInt(700)},
			{ItemId: 3, ItemName: "C", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(250)},
		},
		Totals: models.OrderTotals{TotalAmount: decimal.NewFromInt(3750)},
	}}

	updated, err := models.UpdateSalesOrder(ctx, order.ID, edit)
	if err != nil {
		t.Fatalf("UpdateSalesOrder: %v", err)
	}

	if len(updated.Details) != 2 {
		t.Fatalf("expected 2 lines after reconciliation, got %d", len(updated.Details))
	}
	byItem := map[int]models.SalesOrderDetail{}
	for _, detail := range updated.Details {
		byItem[detail.ItemId] = detail
	}
	if _, gone := byItem[1]; gone {
		t.Fatal("item 1 should have been deleted")
	}
	if !byItem[2].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("item 2 qty = %s, want 5", byItem[2].Qty)
	}
	// stored unit rate survives the update
	if !byItem[2].LineTotal.Equal(decimal.NewFromInt(3500)) {
		t.Fatalf("item 2 line total = %s, want 3500", byItem[2].LineTotal)
	}
	if _, added := byItem[3]; !added {
		t.Fatal("item 3 should have been inserted")
	}
	if updated.Version != initialVersion+1 {
		t.Fatalf("version = %d, want %d", updated.Version, initialVersion+1)
	}

	// applying the identical desired state again writes nothing
	noop, err := models.UpdateSalesOrder(ctx, order.ID, edit)
	if err != nil {
		t.Fatalf("UpdateSalesOrder (noop): %v", err)
	}
	if noop.Version != updated.Version {
		t.Fatalf("noop bumped version from %d to %d", updated.Version, noop.Version)
	}
}

func TestStockGatingAndConservation(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	ctx, biz := createTestBusiness(t, ctx, "Stockful Mart", true)
	businessID := biz.ID.String()
	db := config.GetDB()

	item, err := models.CreateItem(ctx, &models.NewItem{
		Name:      "Cooking Oil",
		UnitPrice: decimal.NewFromInt(4500),
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	// receipt: +10
	_, err = models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		SupplierName: "Golden Supplier",
		Totals:       models.OrderTotals{TotalAmount: decimal.NewFromInt(40000)},
		Details: []models.NewOrderLine{
			{ItemId: item.ID, ItemName: item.Name, Qty: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(4000), LineTotal: decimal.NewFromInt(40000)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}

	balances, err := models.CurrentStock(ctx, db, businessID, []int{item.ID})
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !balances[item.ID].Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance after receipt = %s, want 10", balances[item.ID])
	}

	// receipt also refreshed the item's cost price
	refreshed, err := models.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !refreshed.CostPrice.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("cost price = %s, want 4000", refreshed.CostPrice)
	}

	// consumption: -4
	_, err = models.CreateSalesOrder(ctx, &models.NewSalesOrder{
		CustomerName: "Ko Aung",
		Totals:       models.OrderTotals{TotalAmount: decimal.NewFromInt(18000)},
		Details: []models.NewOrderLine{
			{ItemId: item.ID, ItemName: item.Name, Qty: decimal.NewFromInt(4), UnitPrice: decimal.NewFromInt(4500), LineTotal: decimal.NewFromInt(18000)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSalesOrder: %v", err)
	}

	balances, err = models.CurrentStock(ctx, db, businessID, []int{item.ID})
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !balances[item.ID].Equal(decimal.NewFromInt(6)) {
		t.Fatalf("balance after sale = %s, want 6", balances[item.ID])
	}

	var ordersBefore, movementsBefore int64
	db.Model(&models.SalesOrder{}).Where("business_id = ?", businessID).Count(&ordersBefore)
	db.Model(&models.StockMovement{}).Where("business_id = ?", businessID).Count(&movementsBefore)

	// oversell: must fail naming the item and leave nothing behind
	_, err = models.CreateSalesOrder(ctx, &models.NewSalesOrder{
		CustomerName: "Ko Aung",
		Totals:       models.OrderTotals{TotalAmount: decimal.NewFromInt(225000)},
		Details: []models.NewOrderLine{
			{ItemId: item.ID, ItemName: item.Name, Qty: decimal.NewFromInt(50), UnitPrice: decimal.NewFromInt(4500), LineTotal: decimal.NewFromInt(225000)},
		},
	})
	if err == nil {
		t.Fatal("expected shortage rejection")
	}
	conflictErr, ok := err.(*utils.ConflictError)
	if !ok {
		t.Fatalf("expected ConflictError, got %T: %v", err, err)
	}
	if len(conflictErr.Shortages) != 1 || conflictErr.Shortages[0].ItemId != item.ID {
		t.Fatalf("shortage list should name item %d, got %+v", item.ID, conflictErr.Shortages)
	}
	if !conflictErr.Shortages[0].Available.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("shortage available = %s, want 6", conflictErr.Shortages[0].Available)
	}

	var ordersAfter, movementsAfter int64
	db.Model(&models.SalesOrder{}).Where("business_id = ?", businessID).Count(&ordersAfter)
	db.Model(&models.StockMovement{}).Where("business_id = ?", businessID).Count(&movementsAfter)
	if ordersAfter != ordersBefore || movementsAfter != movementsBefore {
		t.Fatalf("rejected order left rows behind: orders %d->%d movements %d->%d",
			ordersBefore, ordersAfter, movementsBefore, movementsAfter)
	}
}

func TestCounterAndSequenceConcurrency(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	ctx, biz := createTestBusiness(t, ctx, "Busy Shop", false)
	businessID := biz.ID.String()
	db := config.GetDB()

	before, err := models.GetBusinessCounters(ctx, db, businessID)
	if err != nil {
		t.Fatalf("GetBusinessCounters: %v", err)
	}

	const increments = 100
	var wg sync.WaitGroup
	for i := 0; i < increments; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := models.IncrementBusinessCounters(db, businessID, models.CounterDeltas{Employees: 1}); err != nil {
				t.Errorf("IncrementBusinessCounters: %v", err)
			}
		}()
	}
	wg.Wait()

	after, err := models.GetBusinessCounters(ctx, db, businessID)
	if err != nil {
		t.Fatalf("GetBusinessCounters: %v", err)
	}
	if after.Employees != before.Employees+increments {
		t.Fatalf("employees counter = %d, want %d", after.Employees, before.Employees+increments)
	}

	// concurrent creates must still allocate distinct order numbers
	const orders = 5
	numbers := make(chan string, orders)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			order, err := models.CreateSalesOrder(ctx, &models.NewSalesOrder{
				CustomerName: fmt.Sprintf("Customer %d", n),
				Totals:       models.OrderTotals{TotalAmount: decimal.NewFromInt(100)},
				Details: []models.NewOrderLine{
					{ItemId: 1, ItemName: "Thing", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100), LineTotal: decimal.NewFromInt(100)},
				},
			})
			if err != nil {
				t.Errorf("CreateSalesOrder: %v", err)
				return
			}
			numbers <- order.OrderNumber
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for number := range numbers {
		if seen[number] {
			t.Fatalf("duplicate order number allocated: %s", number)
		}
		seen[number] = true
	}
	if len(seen) != orders {
		t.Fatalf("allocated %d distinct numbers, want %d", len(seen), orders)
	}
}

func TestConcurrentSalesStockGating(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	ctx, biz := createTestBusiness(t, ctx, "Racing Mart", true)
	businessID := biz.ID.String()
	db := config.GetDB()

	item, err := models.CreateItem(ctx, &models.NewItem{
		Name:      "Condensed Milk",
		UnitPrice: decimal.NewFromInt(1500),
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	_, err = models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		SupplierName: "Dairy Supplier",
		Totals:       models.OrderTotals{TotalAmount: decimal.NewFromInt(12000)},
		Details: []models.NewOrderLine{
			{ItemId: item.ID, ItemName: item.Name, Qty: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(1200), LineTotal: decimal.NewFromInt(12000)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}

	// two writers each want 8 out of 10; only one may pass the gate
	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := models.CreateSalesOrder(ctx, &models.NewSalesOrder{
				CustomerName: fmt.Sprintf("Racer %d", n),
				Totals:       models.OrderTotals{TotalAmount: decimal.NewFromInt(12000)},
				Details: []models.NewOrderLine{
					{ItemId: item.ID, ItemName: item.Name, Qty: decimal.NewFromInt(8), UnitPrice: decimal.NewFromInt(1500), LineTotal: decimal.NewFromInt(12000)},
				},
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if _, ok := err.(*utils.ConflictError); !ok {
			t.Fatalf("expected ConflictError, got %T: %v", err, err)
		}
		rejected++
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("succeeded=%d rejected=%d, want exactly one of each", succeeded, rejected)
	}

	balances, err := models.CurrentStock(ctx, db, businessID, []int{item.ID})
	if err != nil {
		t.Fatalf("CurrentStock: %v", err)
	}
	if !balances[item.ID].Equal(decimal.NewFromInt(2)) {
		t.Fatalf("balance = %s, want 2 (two sales of 8 against 10 must not both pass)", balances[item.ID])
	}
}

func TestTenantScopeOnQueries(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	ctxA, _ := createTestBusiness(t, ctx, "Shop Alpha", false)
	ctxB, _ := createTestBusiness(t, ctx, "Shop Beta", false)
	db := config.GetDB()

	order, err := models.CreateSalesOrder(ctxA, &models.NewSalesOrder{
		CustomerName: "Alpha Customer",
		Totals:       models.OrderTotals{TotalAmount: decimal.NewFromInt(500)},
		Details: []models.NewOrderLine{
			{ItemId: 9, ItemName: "Widget", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(500), LineTotal: decimal.NewFromInt(500)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSalesOrder: %v", err)
	}

	// owner sees it even without an explicit tenant filter
	var mine models.SalesOrder
	if err := db.WithContext(ctxA).First(&mine, order.ID).Error; err != nil {
		t.Fatalf("owner lookup: %v", err)
	}

	// another business's context must not, even when the query names only the id
	var stolen models.SalesOrder
	err = db.WithContext(ctxB).First(&stolen, order.ID).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("cross-tenant lookup: got %v, want record not found", err)
	}

	if _, err := models.GetSalesOrder(ctxB, order.ID); err == nil {
		t.Fatal("GetSalesOrder should not cross businesses")
	}
}

func TestStockGatingSurvivesCacheOutage(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	ctx, _ = createTestBusiness(t, ctx, "Cacheless Mart", true)

	managed, err := models.StockManaged(ctx)
	if err != nil {
		t.Fatalf("StockManaged: %v", err)
	}
	if !managed {
		t.Fatal("business should be stock managed")
	}

	// unknown business reads as unmanaged, not as an error
	unknownCtx := utils.SetBusinessIdInContext(context.Background(), "00000000-0000-0000-0000-000000000000")
	managed, err = models.StockManaged(unknownCtx)
	if err != nil || managed {
		t.Fatalf("unknown business: managed=%v err=%v, want false/nil", managed, err)
	}

	// with the cache down the flag must still come from the database
	if _, err := dockerRun("stop", integrationRedisContainer); err != nil {
		t.Fatalf("stop redis: %v", err)
	}
	managed, err = models.StockManaged(ctx)
	if err != nil {
		t.Fatalf("StockManaged with cache down: %v", err)
	}
	if !managed {
		t.Fatal("cache outage silently disabled stock management")
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("orders-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("orders-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=orders_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
