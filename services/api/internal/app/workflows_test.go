package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"spoolhub/pkg/domain"
	"spoolhub/pkg/storage"
)

func intPtr(v int) *int { return &v }

func TestRollConsumption(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()

	filamentID := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, userID, sampleFilament()))).FilamentID
	res, err := env.app.CreateRoll(ctx, userID, RollInput{
		FilamentID:    filamentID,
		DefaultWeight: 1000,
		ActualWeight:  800,
		Rating:        intPtr(7),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.Status)
	rollID := idsOf(t, res).RollID

	roll := mustResult(t)(env.app.GetRoll(ctx, userID, rollID)).Value.(domain.Roll)
	require.Equal(t, 200.0, roll.UsedWeight)

	_, err = env.app.ConsumeRoll(ctx, userID, rollID, ChangeWeightInput{UsedWeight: 150})
	require.NoError(t, err)
	roll = mustResult(t)(env.app.GetRoll(ctx, userID, rollID)).Value.(domain.Roll)
	require.Equal(t, 650.0, roll.ActualWeight)
	require.Equal(t, 350.0, roll.UsedWeight)
	require.True(t, roll.IsActive)

	_, err = env.app.ConsumeRoll(ctx, userID, rollID, ChangeWeightInput{UsedWeight: 651})
	de := requireKind(t, err, domain.KindInsufficientQuantity, "actualWeight")
	require.Equal(t, "Not enough filament on roll.", de.Message)

	roll = mustResult(t)(env.app.GetRoll(ctx, userID, rollID)).Value.(domain.Roll)
	require.Equal(t, 650.0, roll.ActualWeight, "failed consumption must not change the roll")

	_, err = env.app.ConsumeRoll(ctx, userID, rollID, ChangeWeightInput{UsedWeight: 650})
	require.NoError(t, err)
	roll = mustResult(t)(env.app.GetRoll(ctx, userID, rollID)).Value.(domain.Roll)
	require.Zero(t, roll.ActualWeight)
}

func TestConsumeMoreThanRemainingLeavesRollUnchanged(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	filamentID := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, userID, sampleFilament()))).FilamentID
	rollID := idsOf(t, mustResult(t)(env.app.CreateRoll(ctx, userID, RollInput{
		FilamentID:    filamentID,
		DefaultWeight: 1000,
		ActualWeight:  1000,
	}))).RollID

	_, err := env.app.ConsumeRoll(ctx, userID, rollID, ChangeWeightInput{UsedWeight: 300})
	require.NoError(t, err)
	roll := mustResult(t)(env.app.GetRoll(ctx, userID, rollID)).Value.(domain.Roll)
	require.Equal(t, 700.0, roll.ActualWeight)
	require.Equal(t, 300.0, roll.UsedWeight)
	require.True(t, roll.IsActive)

	_, err = env.app.ConsumeRoll(ctx, userID, rollID, ChangeWeightInput{UsedWeight: 800})
	requireKind(t, err, domain.KindInsufficientQuantity, "actualWeight")
	after := mustResult(t)(env.app.GetRoll(ctx, userID, rollID)).Value.(domain.Roll)
	require.Equal(t, roll.ActualWeight, after.ActualWeight)
	require.Equal(t, roll.UsedWeight, after.UsedWeight)
}

func TestRollInputValidation(t *testing.T) {
	spool := RollInput{FilamentID: "f1", DefaultWeight: 1000, ActualWeight: 1000}
	require.NoError(t, spool.Validate())

	spool.DefaultWeight = 2500
	spool.ActualWeight = 2500
	require.NoError(t, spool.Validate())

	spool.ActualWeight = 2600
	requireKind(t, spool.Validate(), domain.KindInvalidInput, "defaultWeight")

	requireKind(t, RollInput{FilamentID: "f1", DefaultWeight: -1}.Validate(), domain.KindInvalidInput, "defaultWeight")
}

func TestConcurrentConsumptionNeverGoesNegative(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	filamentID := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, userID, sampleFilament()))).FilamentID
	rollID := idsOf(t, mustResult(t)(env.app.CreateRoll(ctx, userID, RollInput{
		FilamentID: filamentID, DefaultWeight: 100, ActualWeight: 100,
	}))).RollID

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.app.ConsumeRoll(ctx, userID, rollID, ChangeWeightInput{UsedWeight: 10}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, ok)
	roll := mustResult(t)(env.app.GetRoll(ctx, userID, rollID)).Value.(domain.Roll)
	require.Zero(t, roll.ActualWeight)
	require.Equal(t, 100.0, roll.UsedWeight)
}

func TestCreateRollRequiresOwnFilament(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.register(t, "alice")
	bobID := env.register(t, "bob")
	ctx := context.Background()
	filamentID := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, aliceID, sampleFilament()))).FilamentID

	_, err := env.app.CreateRoll(ctx, bobID, RollInput{FilamentID: filamentID, DefaultWeight: 10, ActualWeight: 10})
	requireKind(t, err, domain.KindNotFound, "filamentId")
}

func TestUpdateRollKeepsWeightsConsistent(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	filamentID := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, userID, sampleFilament()))).FilamentID
	rollID := idsOf(t, mustResult(t)(env.app.CreateRoll(ctx, userID, RollInput{
		FilamentID: filamentID, DefaultWeight: 1000, ActualWeight: 900,
	}))).RollID

	low := 500.0
	_, err := env.app.UpdateRoll(ctx, userID, rollID, RollPatch{DefaultWeight: &low})
	requireKind(t, err, domain.KindInvalidInput, "defaultWeight")

	res, err := env.app.UpdateRoll(ctx, userID, rollID, RollPatch{Rating: intPtr(9)})
	require.NoError(t, err)
	require.Equal(t, rollID, idsOf(t, res).RollID)
}

func TestArchiveRollOnce(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	filamentID := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, userID, sampleFilament()))).FilamentID
	rollID := idsOf(t, mustResult(t)(env.app.CreateRoll(ctx, userID, RollInput{
		FilamentID: filamentID, DefaultWeight: 10, ActualWeight: 10,
	}))).RollID

	_, err := env.app.ArchiveRoll(ctx, userID, rollID)
	require.NoError(t, err)
	roll := mustResult(t)(env.app.GetRoll(ctx, userID, rollID)).Value.(domain.Roll)
	require.NotNil(t, roll.ArchivisedAt)
	require.True(t, roll.ArchivisedAt.Equal(testNow))

	_, err = env.app.ArchiveRoll(ctx, userID, rollID)
	requireKind(t, err, domain.KindInvalidInput, "archivisedAt")
}

func TestRollStatisticsAndFilter(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	pla := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, userID, sampleFilament()))).FilamentID
	petg := sampleFilament()
	petg.Type = "PETG"
	petgID := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, userID, petg))).FilamentID

	_, err := env.app.CreateRoll(ctx, userID, RollInput{FilamentID: pla, DefaultWeight: 1000, ActualWeight: 600, Rating: intPtr(6)})
	require.NoError(t, err)
	_, err = env.app.CreateRoll(ctx, userID, RollInput{FilamentID: petgID, DefaultWeight: 1000, ActualWeight: 1000, Rating: intPtr(8)})
	require.NoError(t, err)

	stats := mustResult(t)(env.app.RollStatistics(ctx, userID)).Value.(domain.RollStatistics)
	require.Equal(t, 1600.0, stats.TotalActualWeight)
	require.Equal(t, 400.0, stats.TotalUsedWeight)
	require.Equal(t, 7.0, stats.OverallRating)

	rolls := mustResult(t)(env.app.ListRollsByFilament(ctx, userID, petgID)).Value.([]domain.Roll)
	require.Len(t, rolls, 1)
	require.Equal(t, petgID, rolls[0].FilamentID)
}

func TestSoftDeleteFilamentCascades(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	filamentID := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, userID, sampleFilament()))).FilamentID
	first := idsOf(t, mustResult(t)(env.app.CreateRoll(ctx, userID, RollInput{FilamentID: filamentID, DefaultWeight: 10, ActualWeight: 10}))).RollID
	_, err := env.app.CreateRoll(ctx, userID, RollInput{FilamentID: filamentID, DefaultWeight: 10, ActualWeight: 5})
	require.NoError(t, err)

	_, err = env.app.DeleteRoll(ctx, userID, first, domain.DeleteSoft)
	require.NoError(t, err)

	res, err := env.app.DeleteFilament(ctx, userID, filamentID, domain.DeleteSoft)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, res.Status)

	require.Zero(t, lenOf(mustResult(t)(env.app.ListRolls(ctx, userID)).Value))
	require.Zero(t, lenOf(mustResult(t)(env.app.ListFilaments(ctx, userID)).Value))

	_, err = env.app.DeleteFilament(ctx, userID, filamentID, domain.DeleteSoft)
	de := requireKind(t, err, domain.KindAlreadyDeleted, "isDeleted")
	require.Equal(t, "Cannot soft-delete this object", de.Message)
}

func TestHardDeleteFilamentRemovesRolls(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	filamentID := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, userID, sampleFilament()))).FilamentID
	rollID := idsOf(t, mustResult(t)(env.app.CreateRoll(ctx, userID, RollInput{FilamentID: filamentID, DefaultWeight: 10, ActualWeight: 10}))).RollID

	_, err := env.app.DeleteFilament(ctx, userID, filamentID, domain.DeleteHard)
	require.NoError(t, err)
	_, err = env.app.GetRoll(ctx, userID, rollID)
	requireKind(t, err, domain.KindNotFound)
	_, err = env.app.DeleteFilament(ctx, userID, filamentID, domain.DeleteHard)
	requireKind(t, err, domain.KindNotFound)
}

func TestFilamentsAreScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.register(t, "alice")
	bobID := env.register(t, "bob")
	ctx := context.Background()
	filamentID := idsOf(t, mustResult(t)(env.app.CreateFilament(ctx, aliceID, sampleFilament()))).FilamentID

	_, err := env.app.GetFilament(ctx, bobID, filamentID)
	requireKind(t, err, domain.KindNotFound)
	_, err = env.app.DeleteFilament(ctx, bobID, filamentID, domain.DeleteSoft)
	requireKind(t, err, domain.KindNotFound)

	brand := "Polymaker"
	_, err = env.app.UpdateFilament(ctx, aliceID, filamentID, FilamentPatch{Brand: &brand})
	require.NoError(t, err)
	filament := mustResult(t)(env.app.GetFilament(ctx, aliceID, filamentID)).Value.(domain.Filament)
	require.Equal(t, "Polymaker", filament.Brand)
	require.Equal(t, "PLA", filament.Type)
}

func TestCreateOrderComputesValueAndNumber(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()

	first := idsOf(t, mustResult(t)(env.app.CreateOrder(ctx, userID, sampleOrder()))).OrderID
	second := idsOf(t, mustResult(t)(env.app.CreateOrder(ctx, userID, sampleOrder()))).OrderID

	order := mustResult(t)(env.app.GetOrder(ctx, userID, first)).Value.(domain.Order)
	require.Equal(t, 42.0, order.Value)
	require.Equal(t, 1, order.Number)
	require.True(t, order.PlannedCompletionAt.Equal(truncateDay(testNow)))
	require.Nil(t, order.CompletedAt)

	order = mustResult(t)(env.app.GetOrder(ctx, userID, second)).Value.(domain.Order)
	require.Equal(t, 2, order.Number)
}

func TestCreateOrderAdvancesSettingsCounter(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	prior := mustResult(t)(env.app.GetSettings(ctx, userID)).Value.(domain.UserSettings).OrdersSettings.Numbering

	in := sampleOrder()
	in.Items = []OrderItemInput{
		{Name: "gear", Color: "red", Price: 5, Amount: 2},
		{Name: "shaft", Color: "grey", Price: 10, Amount: 1},
	}
	orderID := idsOf(t, mustResult(t)(env.app.CreateOrder(ctx, userID, in))).OrderID

	order := mustResult(t)(env.app.GetOrder(ctx, userID, orderID)).Value.(domain.Order)
	require.Equal(t, 20.0, order.Value)
	require.Equal(t, prior+1, order.Number)
	settings := mustResult(t)(env.app.GetSettings(ctx, userID)).Value.(domain.UserSettings)
	require.Equal(t, order.Number, settings.OrdersSettings.Numbering)
}

func TestOrderNumbersAreUniqueUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.app.CreateOrder(ctx, userID, sampleOrder())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	orders := mustResult(t)(env.app.ListOrders(ctx, userID)).Value.([]domain.Order)
	require.Len(t, orders, n)
	seen := make(map[int]bool, n)
	for _, o := range orders {
		require.False(t, seen[o.Number], "duplicate number %d", o.Number)
		seen[o.Number] = true
	}
	for i := 1; i <= n; i++ {
		require.True(t, seen[i], "missing number %d", i)
	}
}

func TestCreateOrderRejectsPastDate(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	in := sampleOrder()
	in.PlannedCompletionAt = testNow.AddDate(0, 0, -1).Format(time.RFC3339)

	_, err := env.app.CreateOrder(context.Background(), userID, in)
	de := requireKind(t, err, domain.KindInvalidInput, "plannedCompletionAt")
	require.Equal(t, "Date of plannedCompletionAt must be greater or equal than today.", de.Message)

	settings := mustResult(t)(env.app.GetSettings(context.Background(), userID)).Value.(domain.UserSettings)
	require.Zero(t, settings.OrdersSettings.Numbering)
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	orderID := idsOf(t, mustResult(t)(env.app.CreateOrder(ctx, userID, sampleOrder()))).OrderID

	_, err := env.app.ArchiveOrder(ctx, userID, orderID)
	de := requireKind(t, err, domain.KindInvalidInput, "completedAt")
	require.Equal(t, "Cannot archivise not completed order", de.Message)

	items := []OrderItemInput{{Name: "king", Color: "gold", Price: 25, Amount: 1}}
	_, err = env.app.UpdateOrder(ctx, userID, orderID, OrderPatch{Items: &items})
	require.NoError(t, err)
	order := mustResult(t)(env.app.GetOrder(ctx, userID, orderID)).Value.(domain.Order)
	require.Equal(t, 25.0, order.Value)
	require.Equal(t, 1, order.Number)

	_, err = env.app.CompleteOrder(ctx, userID, orderID)
	require.NoError(t, err)
	_, err = env.app.CompleteOrder(ctx, userID, orderID)
	de = requireKind(t, err, domain.KindInvalidInput, "completedAt")
	require.Equal(t, "Order Chess set #1 is completed", de.Message)

	name := "Renamed"
	_, err = env.app.UpdateOrder(ctx, userID, orderID, OrderPatch{Name: &name})
	requireKind(t, err, domain.KindInvalidInput, "completedAt")

	_, err = env.app.ArchiveOrder(ctx, userID, orderID)
	require.NoError(t, err)
	_, err = env.app.ArchiveOrder(ctx, userID, orderID)
	de = requireKind(t, err, domain.KindInvalidInput, "archivisedAt")
	require.Equal(t, "Order Chess set #1 is archivised", de.Message)

	_, err = env.app.DeleteOrder(ctx, userID, orderID, domain.DeleteSoft)
	require.NoError(t, err)
	_, err = env.app.GetOrder(ctx, userID, orderID)
	requireKind(t, err, domain.KindNotFound)
}

func TestCreateProjectWritesFolderMarker(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()

	res, err := env.app.CreateProject(ctx, userID, ProjectInput{Name: "benchy", ShortDescription: "boat"})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.Status)
	require.True(t, env.objects.Exists(storage.ProjectPrefix(userID, "benchy")))

	_, err = env.app.CreateProject(ctx, userID, ProjectInput{Name: "benchy"})
	de := requireKind(t, err, domain.KindInvalidInput, "name")
	require.Equal(t, "Project named benchy already exists.", de.Message)
	require.Len(t, mustResult(t)(env.app.ListProjects(ctx, userID)).Value.([]domain.Project), 1)
}

func TestUploadDownloadAndDeleteFile(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	projectID := idsOf(t, mustResult(t)(env.app.CreateProject(ctx, userID, ProjectInput{Name: "benchy"}))).ProjectID

	res, err := env.app.UploadFile(ctx, userID, projectID, UploadFileInput{Name: "hull", Extension: ".STL"}, strings.NewReader("solid hull"), 10, "")
	require.NoError(t, err)
	ids := idsOf(t, res)
	require.Equal(t, projectID, ids.ProjectID)
	require.NotEmpty(t, ids.FileID)
	key := storage.ProjectFileKey(userID, "benchy", "hull.stl")
	require.True(t, env.objects.Exists(key))

	_, err = env.app.UploadFile(ctx, userID, projectID, UploadFileInput{Name: "hull", Extension: "stl"}, strings.NewReader("other"), 5, "")
	requireKind(t, err, domain.KindInvalidInput, "file")

	_, err = env.app.UploadFile(ctx, userID, projectID, UploadFileInput{Name: "notes", Extension: "txt"}, strings.NewReader("x"), 1, "")
	de := requireKind(t, err, domain.KindInvalidInput, "file")
	require.Equal(t, "File extension .txt is not allowed.", de.Message)

	dl, err := env.app.DownloadFile(ctx, userID, projectID, ids.FileID)
	require.NoError(t, err)
	require.Equal(t, ResultDownload, dl.Kind)
	require.Equal(t, "hull.stl", dl.Download.FileName)
	require.Equal(t, "application/octet-stream", dl.Download.ContentType)
	require.Equal(t, "solid hull", string(readAll(t, dl.Download.Body)))

	_, err = env.app.DownloadFile(ctx, userID, projectID, "missing")
	requireKind(t, err, domain.KindNotFound, "fileId")

	_, err = env.app.DeleteFile(ctx, userID, projectID, ids.FileID)
	require.NoError(t, err)
	require.False(t, env.objects.Exists(key))
	project := mustResult(t)(env.app.GetProject(ctx, userID, projectID)).Value.(domain.Project)
	require.Empty(t, project.Files)

	_, err = env.app.DeleteFile(ctx, userID, projectID, ids.FileID)
	requireKind(t, err, domain.KindNotFound, "fileId")
}

func TestRenameProjectMovesFiles(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	projectID := idsOf(t, mustResult(t)(env.app.CreateProject(ctx, userID, ProjectInput{Name: "benchy"}))).ProjectID
	fileID := idsOf(t, mustResult(t)(env.app.UploadFile(ctx, userID, projectID, UploadFileInput{Name: "hull", Extension: "stl"}, strings.NewReader("solid"), 5, "model/stl"))).FileID
	_, err := env.app.CreateProject(ctx, userID, ProjectInput{Name: "taken"})
	require.NoError(t, err)

	taken := "taken"
	_, err = env.app.UpdateProject(ctx, userID, projectID, ProjectPatch{Name: &taken})
	requireKind(t, err, domain.KindInvalidInput, "name")

	same := "benchy"
	_, err = env.app.UpdateProject(ctx, userID, projectID, ProjectPatch{Name: &same})
	require.NoError(t, err)
	require.True(t, env.objects.Exists(storage.ProjectFileKey(userID, "benchy", "hull.stl")))

	name := "boat"
	_, err = env.app.UpdateProject(ctx, userID, projectID, ProjectPatch{Name: &name})
	require.NoError(t, err)
	require.True(t, env.objects.Exists(storage.ProjectPrefix(userID, "boat")))
	require.True(t, env.objects.Exists(storage.ProjectFileKey(userID, "boat", "hull.stl")))
	old, err := env.objects.List(ctx, storage.ProjectPrefix(userID, "benchy"))
	require.NoError(t, err)
	require.Empty(t, old)

	dl, err := env.app.DownloadFile(ctx, userID, projectID, fileID)
	require.NoError(t, err)
	require.Equal(t, "solid", string(readAll(t, dl.Download.Body)))
}

func TestDeleteProjectModes(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	softID := idsOf(t, mustResult(t)(env.app.CreateProject(ctx, userID, ProjectInput{Name: "soft"}))).ProjectID
	hardID := idsOf(t, mustResult(t)(env.app.CreateProject(ctx, userID, ProjectInput{Name: "hard"}))).ProjectID
	_, err := env.app.UploadFile(ctx, userID, hardID, UploadFileInput{Name: "part", Extension: "obj"}, strings.NewReader("v 0 0 0"), 7, "")
	require.NoError(t, err)

	_, err = env.app.DeleteProject(ctx, userID, softID, domain.DeleteSoft)
	require.NoError(t, err)
	require.True(t, env.objects.Exists(storage.ProjectPrefix(userID, "soft")))
	_, err = env.app.DeleteProject(ctx, userID, softID, domain.DeleteSoft)
	requireKind(t, err, domain.KindAlreadyDeleted)

	_, err = env.app.DeleteProject(ctx, userID, hardID, domain.DeleteHard)
	require.NoError(t, err)
	keys, err := env.objects.List(ctx, storage.ProjectPrefix(userID, "hard"))
	require.NoError(t, err)
	require.Empty(t, keys)
	_, err = env.app.GetProject(ctx, userID, hardID)
	requireKind(t, err, domain.KindNotFound)
}

func TestSoftDeletedProjectKeepsNameReserved(t *testing.T) {
	env := newTestEnv(t)
	userID := env.register(t, "alice")
	ctx := context.Background()
	oldID := idsOf(t, mustResult(t)(env.app.CreateProject(ctx, userID, ProjectInput{Name: "benchy"}))).ProjectID
	_, err := env.app.UploadFile(ctx, userID, oldID, UploadFileInput{Name: "hull", Extension: "stl"}, strings.NewReader("OLD"), 3, "")
	require.NoError(t, err)
	_, err = env.app.DeleteProject(ctx, userID, oldID, domain.DeleteSoft)
	require.NoError(t, err)

	_, err = env.app.CreateProject(ctx, userID, ProjectInput{Name: "benchy"})
	requireKind(t, err, domain.KindInvalidInput, "name")

	otherID := idsOf(t, mustResult(t)(env.app.CreateProject(ctx, userID, ProjectInput{Name: "boat"}))).ProjectID
	name := "benchy"
	_, err = env.app.UpdateProject(ctx, userID, otherID, ProjectPatch{Name: &name})
	requireKind(t, err, domain.KindInvalidInput, "name")

	obj, err := env.objects.Get(ctx, storage.ProjectFileKey(userID, "benchy", "hull.stl"))
	require.NoError(t, err)
	require.Equal(t, "OLD", string(readAll(t, obj.Body)))
}

var errBlobDown = errors.New("blob store unavailable")

// flakyObjects fails every Put whose key has failPrefix and every Copy
// whose destination has failCopyPrefix.
type flakyObjects struct {
	*storage.MemoryStore
	failPrefix     string
	failCopyPrefix string
}

func (f *flakyObjects) Copy(ctx context.Context, srcKey, dstKey string) error {
	if f.failCopyPrefix != "" && strings.HasPrefix(dstKey, f.failCopyPrefix) {
		return errBlobDown
	}
	return f.MemoryStore.Copy(ctx, srcKey, dstKey)
}

func (f *flakyObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.failPrefix != "" && strings.HasPrefix(key, f.failPrefix) {
		return errBlobDown
	}
	return f.MemoryStore.Put(ctx, key, r, size, contentType)
}

func TestFailedBlobWriteRollsBackDocument(t *testing.T) {
	mem := storage.NewMemoryStore("spoolhub-test")
	flaky := &flakyObjects{MemoryStore: mem}
	env := newTestEnvWithObjects(t, flaky, mem)
	userID := env.register(t, "alice")
	ctx := context.Background()

	flaky.failPrefix = storage.ProjectPrefix(userID, "broken")
	_, err := env.app.CreateProject(ctx, userID, ProjectInput{Name: "broken"})
	require.ErrorIs(t, err, errBlobDown)
	require.Empty(t, mustResult(t)(env.app.ListProjects(ctx, userID)).Value.([]domain.Project))

	projectID := idsOf(t, mustResult(t)(env.app.CreateProject(ctx, userID, ProjectInput{Name: "benchy"}))).ProjectID
	flaky.failPrefix = storage.ProjectFileKey(userID, "benchy", "hull.stl")
	_, err = env.app.UploadFile(ctx, userID, projectID, UploadFileInput{Name: "hull", Extension: "stl"}, strings.NewReader("solid"), 5, "")
	require.ErrorIs(t, err, errBlobDown)
	project := mustResult(t)(env.app.GetProject(ctx, userID, projectID)).Value.(domain.Project)
	require.Empty(t, project.Files)
}

func TestRollbackDeletesBlobsWrittenEarlier(t *testing.T) {
	mem := storage.NewMemoryStore("spoolhub-test")
	flaky := &flakyObjects{MemoryStore: mem}
	env := newTestEnvWithObjects(t, flaky, mem)
	userID := env.register(t, "alice")
	ctx := context.Background()
	projectID := idsOf(t, mustResult(t)(env.app.CreateProject(ctx, userID, ProjectInput{Name: "benchy"}))).ProjectID
	_, err := env.app.UploadFile(ctx, userID, projectID, UploadFileInput{Name: "hull", Extension: "stl"}, strings.NewReader("solid"), 5, "")
	require.NoError(t, err)

	flaky.failCopyPrefix = storage.ProjectPrefix(userID, "boat")
	name := "boat"
	_, err = env.app.UpdateProject(ctx, userID, projectID, ProjectPatch{Name: &name})
	require.ErrorIs(t, err, errBlobDown)

	project := mustResult(t)(env.app.GetProject(ctx, userID, projectID)).Value.(domain.Project)
	require.Equal(t, "benchy", project.Name)
	require.True(t, mem.Exists(storage.ProjectFileKey(userID, "benchy", "hull.stl")))
	keys, err := mem.List(ctx, storage.ProjectPrefix(userID, "boat"))
	require.NoError(t, err)
	require.Empty(t, keys)
}
