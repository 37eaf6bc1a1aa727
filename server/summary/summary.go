package summary

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// Store is the summary stream of a training run: scalar series, visualizations, and the
// checkpoint index. It lives in the train directory:
//
//	root/summaries.sqlite   Our SQLite DB
//	root/images/...         JPEG visualizations
type Store struct {
	log  logs.Log
	root string
	db   *gorm.DB
}

func Open(log logs.Log, root string) (*Store, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(filepath.Join(root, "images"), 0755); err != nil {
		return nil, fmt.Errorf("Failed to create summary directory '%v': %w", root, err)
	}
	dbPath := filepath.Join(root, "summaries.sqlite")
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbPath), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open summary database %v: %w", dbPath, err)
	}
	return &Store{
		log:  log,
		root: root,
		db:   db,
	}, nil
}

func (s *Store) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Root returns the summary directory
func (s *Store) Root() string {
	return s.root
}

// AddScalars writes one value per tag, all at the same step
func (s *Store) AddScalars(step int64, values map[string]float64) error {
	now := dbh.MakeIntTime(time.Now())
	records := make([]Scalar, 0, len(values))
	for tag, v := range values {
		records = append(records, Scalar{Step: step, Tag: tag, Value: v, Time: now})
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.db.Create(&records).Error; err != nil {
		return fmt.Errorf("Failed to write scalars: %w", err)
	}
	return nil
}

// Scalars returns the most recent values of a series, in increasing step order
func (s *Store) Scalars(tag string, limit int) ([]Scalar, error) {
	records := []Scalar{}
	if err := s.db.Where("tag = ?", tag).Order("step DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Tags returns the names of all scalar series
func (s *Store) Tags() ([]string, error) {
	tags := []string{}
	err := s.db.Raw("SELECT DISTINCT tag FROM scalar ORDER BY tag").Scan(&tags).Error
	return tags, err
}

// AddImages compresses the images to JPEG, and records them under 'tag'
func (s *Store) AddImages(step int64, tag string, images []image.Image) error {
	now := dbh.MakeIntTime(time.Now())
	safeTag := strings.NewReplacer("/", "_", " ", "_").Replace(tag)
	for i, img := range images {
		jpg, err := cimg.Compress(toCImage(img), cimg.MakeCompressParams(cimg.Sampling420, 85, 0))
		if err != nil {
			return fmt.Errorf("Failed to compress image: %w", err)
		}
		rel := filepath.Join("images", fmt.Sprintf("%v-%08d-%v.jpg", safeTag, step, i))
		if err := os.WriteFile(filepath.Join(s.root, rel), jpg, 0644); err != nil {
			return fmt.Errorf("Failed to write image: %w", err)
		}
		rec := Image{Step: step, Tag: tag, Path: rel, Time: now}
		if err := s.db.Create(&rec).Error; err != nil {
			return fmt.Errorf("Failed to record image: %w", err)
		}
	}
	return nil
}

// Images returns the images recorded at 'step'
func (s *Store) Images(step int64) ([]Image, error) {
	records := []Image{}
	err := s.db.Where("step = ?", step).Order("id").Find(&records).Error
	return records, err
}

func (s *Store) AddCheckpoint(step int64, name string) error {
	rec := Checkpoint{Step: step, Name: name, Time: dbh.MakeIntTime(time.Now())}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("Failed to record checkpoint: %w", err)
	}
	return nil
}

func (s *Store) Checkpoints() ([]Checkpoint, error) {
	records := []Checkpoint{}
	err := s.db.Order("step").Find(&records).Error
	return records, err
}

func toCImage(img image.Image) *cimg.Image {
	b := img.Bounds()
	out := cimg.NewImage(b.Dx(), b.Dy(), cimg.PixelFormatRGB)
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+b.Dx()*4]
			dst := out.Pixels[y*out.Stride : y*out.Stride+b.Dx()*3]
			for x := 0; x < b.Dx(); x++ {
				dst[x*3] = src[x*4]
				dst[x*3+1] = src[x*4+1]
				dst[x*3+2] = src[x*4+2]
			}
		}
		return out
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			p := y*out.Stride + x*3
			out.Pixels[p] = byte(r >> 8)
			out.Pixels[p+1] = byte(g >> 8)
			out.Pixels[p+2] = byte(bl >> 8)
		}
	}
	return out
}
