package db

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestUpsertPlateInsert(t *testing.T) {
	db := setupTestDB(t)

	up := testUpsert("PLATE001", "34ABC123", 120)
	up.FilePath = "plates/PLATE001.png"

	outcome, err := db.UpsertPlate(up)
	if err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}
	if outcome != UpsertInserted {
		t.Errorf("Expected UpsertInserted, got %v", outcome)
	}

	got, err := db.GetPlateByText("34ABC123")
	if err != nil {
		t.Fatalf("GetPlateByText failed: %v", err)
	}

	want := PlateRecord{
		ID:          got.ID,
		PlateID:     "PLATE001",
		Clarity:     120,
		Confidence:  0.9,
		Rotation:    0,
		CaptureUnix: 1700000000,
		FilePath:    strPtr("plates/PLATE001.png"),
		PlateText:   strPtr("34ABC123"),
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("Plate record mismatch (-want +got):\n%s", diff)
	}

	image, err := db.GetPlateImage(got.ID)
	if err != nil {
		t.Fatalf("GetPlateImage failed: %v", err)
	}
	if !bytes.Equal(image, up.Image) {
		t.Error("Stored image does not match upserted image")
	}
}

func TestUpsertPlateSharperCaptureReplaces(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.UpsertPlate(testUpsert("PLATE001", "34ABC123", 120)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}

	sharper := testUpsert("PLATE002", "34ABC123", 200)
	sharper.Rotation = 90
	outcome, err := db.UpsertPlate(sharper)
	if err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}
	if outcome != UpsertReplaced {
		t.Errorf("Expected UpsertReplaced, got %v", outcome)
	}

	got, err := db.GetPlateByText("34ABC123")
	if err != nil {
		t.Fatalf("GetPlateByText failed: %v", err)
	}
	if got.Clarity != 200 {
		t.Errorf("Expected clarity 200, got %f", got.Clarity)
	}
	if got.PlateID != "PLATE002" {
		t.Errorf("Expected plate_id PLATE002, got %s", got.PlateID)
	}
	if got.Rotation != 90 {
		t.Errorf("Expected rotation 90, got %d", got.Rotation)
	}

	image, err := db.GetPlateImage(got.ID)
	if err != nil {
		t.Fatalf("GetPlateImage failed: %v", err)
	}
	if !bytes.Equal(image, sharper.Image) {
		t.Error("Expected image to be replaced by sharper capture")
	}

	// Still one row for this plate
	plates, err := db.ListPlates(0)
	if err != nil {
		t.Fatalf("ListPlates failed: %v", err)
	}
	if len(plates) != 1 {
		t.Errorf("Expected 1 plate record, got %d", len(plates))
	}
}

func TestUpsertPlateBlurrierCaptureIgnored(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.UpsertPlate(testUpsert("PLATE001", "34ABC123", 120)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}

	outcome, err := db.UpsertPlate(testUpsert("PLATE002", "34ABC123", 80))
	if err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}
	if outcome != UpsertUnchanged {
		t.Errorf("Expected UpsertUnchanged, got %v", outcome)
	}

	got, err := db.GetPlateByText("34ABC123")
	if err != nil {
		t.Fatalf("GetPlateByText failed: %v", err)
	}
	if got.Clarity != 120 {
		t.Errorf("Expected original clarity 120, got %f", got.Clarity)
	}
	if got.PlateID != "PLATE001" {
		t.Errorf("Expected original plate_id PLATE001, got %s", got.PlateID)
	}
}

func TestUpsertPlateEqualClarityIgnored(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.UpsertPlate(testUpsert("PLATE001", "34ABC123", 120)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}

	// Replacement requires strictly higher clarity
	outcome, err := db.UpsertPlate(testUpsert("PLATE002", "34ABC123", 120))
	if err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}
	if outcome != UpsertUnchanged {
		t.Errorf("Expected UpsertUnchanged for equal clarity, got %v", outcome)
	}
}

func TestUpsertPlateDoesNotTouchSpeed(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.UpsertPlate(testUpsert("PLATE001", "34ABC123", 120)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}

	updated, err := db.UpdatePlateSpeed("34ABC123", 54.0)
	if err != nil {
		t.Fatalf("UpdatePlateSpeed failed: %v", err)
	}
	if !updated {
		t.Fatal("Expected speed update to hit a row")
	}

	// A sharper capture refreshes the image but must leave speed alone
	if _, err := db.UpsertPlate(testUpsert("PLATE001", "34ABC123", 300)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}

	got, err := db.GetPlateByText("34ABC123")
	if err != nil {
		t.Fatalf("GetPlateByText failed: %v", err)
	}
	if got.Speed == nil {
		t.Fatal("Expected speed to survive upsert")
	}
	if *got.Speed != 54.0 {
		t.Errorf("Expected speed 54.0, got %f", *got.Speed)
	}
	if got.Clarity != 300 {
		t.Errorf("Expected clarity 300, got %f", got.Clarity)
	}
}

func TestUpsertPlateKeyedByIdentityWithoutText(t *testing.T) {
	db := setupTestDB(t)

	outcome, err := db.UpsertPlate(testUpsert("PLATE001", "", 100))
	if err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}
	if outcome != UpsertInserted {
		t.Errorf("Expected UpsertInserted, got %v", outcome)
	}

	// Same identity again with a sharper capture updates in place
	outcome, err = db.UpsertPlate(testUpsert("PLATE001", "", 150))
	if err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}
	if outcome != UpsertReplaced {
		t.Errorf("Expected UpsertReplaced, got %v", outcome)
	}

	plates, err := db.ListPlates(0)
	if err != nil {
		t.Fatalf("ListPlates failed: %v", err)
	}
	if len(plates) != 1 {
		t.Fatalf("Expected 1 plate record, got %d", len(plates))
	}
	if plates[0].PlateText != nil {
		t.Errorf("Expected nil plate text, got %q", *plates[0].PlateText)
	}
	if plates[0].Clarity != 150 {
		t.Errorf("Expected clarity 150, got %f", plates[0].Clarity)
	}
}

func TestUpsertPlateEmptyTextRowsDoNotCollide(t *testing.T) {
	db := setupTestDB(t)

	// Text is stored as NULL, so the unique constraint must not fire
	// across distinct unreadable plates.
	if _, err := db.UpsertPlate(testUpsert("PLATE001", "", 100)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}
	if _, err := db.UpsertPlate(testUpsert("PLATE002", "", 110)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}

	plates, err := db.ListPlates(0)
	if err != nil {
		t.Fatalf("ListPlates failed: %v", err)
	}
	if len(plates) != 2 {
		t.Errorf("Expected 2 plate records, got %d", len(plates))
	}
}

func TestUpdatePlateSpeedByIdentityAndText(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.UpsertPlate(testUpsert("PLATE001", "34ABC123", 120)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}

	// By identity id
	updated, err := db.UpdatePlateSpeed("PLATE001", 48.5)
	if err != nil {
		t.Fatalf("UpdatePlateSpeed failed: %v", err)
	}
	if !updated {
		t.Error("Expected update by identity id to hit a row")
	}

	// By plate text
	updated, err = db.UpdatePlateSpeed("34ABC123", 54.0)
	if err != nil {
		t.Fatalf("UpdatePlateSpeed failed: %v", err)
	}
	if !updated {
		t.Error("Expected update by plate text to hit a row")
	}

	got, err := db.GetPlateByText("34ABC123")
	if err != nil {
		t.Fatalf("GetPlateByText failed: %v", err)
	}
	if got.Speed == nil || *got.Speed != 54.0 {
		t.Errorf("Expected speed 54.0, got %v", got.Speed)
	}
}

func TestUpdatePlateSpeedUnknownRef(t *testing.T) {
	db := setupTestDB(t)

	updated, err := db.UpdatePlateSpeed("NOSUCH", 50)
	if err != nil {
		t.Fatalf("UpdatePlateSpeed failed: %v", err)
	}
	if updated {
		t.Error("Did not expect update for unknown reference")
	}
}

func TestListPlatesNewestFirst(t *testing.T) {
	db := setupTestDB(t)

	for _, text := range []string{"AAA111", "BBB222", "CCC333"} {
		if _, err := db.UpsertPlate(testUpsert("PLATE-"+text, text, 100)); err != nil {
			t.Fatalf("UpsertPlate failed: %v", err)
		}
	}

	plates, err := db.ListPlates(0)
	if err != nil {
		t.Fatalf("ListPlates failed: %v", err)
	}
	if len(plates) != 3 {
		t.Fatalf("Expected 3 plates, got %d", len(plates))
	}
	if *plates[0].PlateText != "CCC333" || *plates[2].PlateText != "AAA111" {
		t.Errorf("Expected newest-first order, got %q ... %q", *plates[0].PlateText, *plates[2].PlateText)
	}

	limited, err := db.ListPlates(2)
	if err != nil {
		t.Fatalf("ListPlates failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected limit of 2 plates, got %d", len(limited))
	}
}

func TestListPlatesAbove(t *testing.T) {
	db := setupTestDB(t)

	confidences := map[string]float64{
		"AAA111": 0.40,
		"BBB222": 0.55,
		"CCC333": 0.90,
	}
	for text, conf := range confidences {
		up := testUpsert("PLATE-"+text, text, 100)
		up.Confidence = conf
		if _, err := db.UpsertPlate(up); err != nil {
			t.Fatalf("UpsertPlate failed: %v", err)
		}
	}

	// Floor is inclusive
	plates, err := db.ListPlatesAbove(0.55, 0)
	if err != nil {
		t.Fatalf("ListPlatesAbove failed: %v", err)
	}
	if len(plates) != 2 {
		t.Errorf("Expected 2 plates at or above 0.55, got %d", len(plates))
	}
	for _, p := range plates {
		if p.Confidence < 0.55 {
			t.Errorf("Plate %s below confidence floor: %f", *p.PlateText, p.Confidence)
		}
	}
}

func TestGetPlateAndDelete(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.UpsertPlate(testUpsert("PLATE001", "34ABC123", 120)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}

	plates, err := db.ListPlates(0)
	if err != nil {
		t.Fatalf("ListPlates failed: %v", err)
	}
	id := plates[0].ID

	got, err := db.GetPlate(id)
	if err != nil {
		t.Fatalf("GetPlate failed: %v", err)
	}
	if *got.PlateText != "34ABC123" {
		t.Errorf("Expected plate text 34ABC123, got %q", *got.PlateText)
	}

	deleted, err := db.DeletePlate(id)
	if err != nil {
		t.Fatalf("DeletePlate failed: %v", err)
	}
	if !deleted {
		t.Error("Expected delete to hit a row")
	}

	deleted, err = db.DeletePlate(id)
	if err != nil {
		t.Fatalf("DeletePlate failed: %v", err)
	}
	if deleted {
		t.Error("Did not expect second delete to hit a row")
	}

	_, err = db.GetPlate(id)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound getting deleted plate, got %v", err)
	}
	_, err = db.GetPlateImage(id)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound getting deleted plate image, got %v", err)
	}
}

// The unique-violation fallback in UpsertPlate guards against a second
// writer inserting the same plate text between the lookup and the insert.
// That race cannot be staged serially, so the predicate is checked directly.
func TestIsUniqueViolation(t *testing.T) {
	violation := errors.New("constraint failed: UNIQUE constraint failed: plates.plate_text (2067)")
	if !isUniqueViolation(violation) {
		t.Error("Expected UNIQUE constraint error to be recognized")
	}
	if isUniqueViolation(errors.New("database is locked")) {
		t.Error("Did not expect unrelated error to be recognized")
	}
	if isUniqueViolation(nil) {
		t.Error("Did not expect nil to be recognized")
	}
}

func TestGetPlateStats(t *testing.T) {
	db := setupTestDB(t)

	stats, err := db.GetPlateStats()
	if err != nil {
		t.Fatalf("GetPlateStats failed: %v", err)
	}
	want := PlateStats{}
	if diff := cmp.Diff(want, *stats); diff != "" {
		t.Errorf("Empty stats mismatch (-want +got):\n%s", diff)
	}

	if _, err := db.UpsertPlate(testUpsert("PLATE001", "34ABC123", 100)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}
	if _, err := db.UpsertPlate(testUpsert("PLATE002", "", 200)); err != nil {
		t.Fatalf("UpsertPlate failed: %v", err)
	}
	if _, err := db.UpdatePlateSpeed("34ABC123", 62.5); err != nil {
		t.Fatalf("UpdatePlateSpeed failed: %v", err)
	}

	stats, err = db.GetPlateStats()
	if err != nil {
		t.Fatalf("GetPlateStats failed: %v", err)
	}
	want = PlateStats{
		Total:      2,
		WithText:   1,
		WithSpeed:  1,
		AvgClarity: 150,
		MaxSpeed:   floatPtr(62.5),
	}
	if diff := cmp.Diff(want, *stats); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
}
