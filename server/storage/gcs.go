package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/cyclopcam/logs"
	"google.golang.org/api/iterator"
)

// StorageGCS is a Google Cloud Storage-based blob store.
// Objects written through it only become visible once the writer is closed.
type StorageGCS struct {
	bucketName string
	prefix     string
	bucket     *gcs.BucketHandle
	log        logs.Log
}

// NewStorageGCS stores files in bucketName, under the given prefix (eg "runs/kitti-8/")
func NewStorageGCS(log logs.Log, bucketName, prefix string) (*StorageGCS, error) {
	ctx := context.Background()
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("Failed to create GCS client: %w", err)
	}
	return &StorageGCS{
		bucketName: bucketName,
		prefix:     prefix,
		bucket:     client.Bucket(bucketName),
		log:        log,
	}, nil
}

func (s *StorageGCS) object(name string) *gcs.ObjectHandle {
	return s.bucket.Object(s.prefix + name)
}

func (s *StorageGCS) WriteFile(name string) (io.WriteCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	s.log.Debugf("Writing gs://%v/%v%v", s.bucketName, s.prefix, name)
	return s.object(name).NewWriter(context.Background()), nil
}

func (s *StorageGCS) ReadFile(name string) (*File, error) {
	r, err := s.object(name).NewReader(context.Background())
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, name)
	} else if err != nil {
		return nil, err
	}
	return &File{
		Reader:     r,
		ModifiedAt: r.Attrs.LastModified,
		Size:       r.Attrs.Size,
	}, nil
}

func (s *StorageGCS) DeleteFile(name string) error {
	s.log.Infof("Deleting gs://%v/%v%v", s.bucketName, s.prefix, name)
	return s.object(name).Delete(context.Background())
}

func (s *StorageGCS) Exists(name string) (bool, error) {
	_, err := s.object(name).Attrs(context.Background())
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *StorageGCS) List(prefix string) ([]string, error) {
	it := s.bucket.Objects(context.Background(), &gcs.Query{Prefix: s.prefix + prefix})
	names := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		} else if err != nil {
			return nil, fmt.Errorf("Failed to list gs://%v/%v%v: %w", s.bucketName, s.prefix, prefix, err)
		}
		names = append(names, attrs.Name[len(s.prefix):])
	}
	return names, nil
}
