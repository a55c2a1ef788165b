package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"edgeclassifier/internal/model"
	"edgeclassifier/internal/repository/sqlite"
	"edgeclassifier/internal/service/snapshot"
)

// migrate indexes snapshot files already on disk into the database and
// prints the most recent epoch summaries.
func main() {
	imagesDir := flag.String("images", "static/images", "Directory containing snapshots")
	dbPath := flag.String("db", "data/edgeclassifier.db", "Database path")
	epochs := flag.Int("epochs", 10, "Number of recent epochs to print")
	flag.Parse()

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	snapshots := sqlite.NewSnapshotRepository(db)
	indexed, skipped, err := indexSnapshots(*imagesDir, snapshots)
	if err != nil {
		log.Fatalf("Failed to read images directory: %v", err)
	}
	fmt.Printf("Indexed %d snapshots from %s (%d skipped)\n", indexed, *imagesDir, skipped)

	repo := sqlite.NewEpochRepository(db)
	total, err := repo.Count()
	if err != nil {
		log.Fatalf("Failed to count epochs: %v", err)
	}
	recent, err := repo.Recent(*epochs)
	if err != nil {
		log.Fatalf("Failed to read epochs: %v", err)
	}
	fmt.Printf("\nEpochs stored: %d\n", total)
	for _, e := range recent {
		fmt.Printf("   run %s tick %d: %.3f s (%.3f FPS), inference avg %.3f ms p95 %.3f ms, frame avg %.3f ms\n",
			e.RunID, e.Tick, e.Duration.Seconds(), e.FPS, e.AvgInference, e.P95Inference, e.AvgFrame)
	}
}

type snapshotInserter interface {
	GetByFilename(filename string) (*model.Snapshot, error)
	Insert(s *model.Snapshot) (int64, error)
}

func indexSnapshots(dir string, repo snapshotInserter) (indexed, skipped int, err error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".jpg" {
			continue
		}
		existing, err := repo.GetByFilename(file.Name())
		if err != nil {
			log.Printf("Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}
		if existing != nil {
			continue
		}

		ts, stream, seq, err := snapshot.ParseFilename(file.Name())
		if err != nil {
			log.Printf("Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}
		info, err := file.Info()
		if err != nil {
			log.Printf("Failed to get info for %s: %v", file.Name(), err)
			skipped++
			continue
		}

		_, err = repo.Insert(&model.Snapshot{
			Filename:  file.Name(),
			StreamURI: stream,
			Seq:       seq,
			Timestamp: ts,
			FilePath:  filepath.Join(dir, file.Name()),
			FileSize:  info.Size(),
		})
		if err != nil {
			log.Printf("Failed to insert %s: %v", file.Name(), err)
			skipped++
			continue
		}
		indexed++
	}
	return indexed, skipped, nil
}
