package dbmongo

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/gridfs"

	"filehub/internal/common"
)

// AttachmentStore resolves attachment references against GridFS metadata and
// streams file contents for downloads.
type AttachmentStore struct {
	gridFS *gridfs.Bucket
}

func NewAttachmentStore(mongoClient *MongoClient) *AttachmentStore {
	return &AttachmentStore{gridFS: mongoClient.GridFS}
}

func (s *AttachmentStore) Resolve(ctx context.Context, fileID string) (*common.Attachment, error) {
	objectID, err := ParseFileID(fileID)
	if err != nil {
		return nil, err
	}

	cursor, err := s.gridFS.FindContext(ctx, bson.M{"_id": objectID})
	if err != nil {
		return nil, fmt.Errorf("file lookup failed: %w: %v", common.ErrTransient, err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, fmt.Errorf("file lookup failed: %w: %v", common.ErrTransient, err)
		}
		return nil, fmt.Errorf("file %s: %w", fileID, common.ErrNotFound)
	}

	var file gridfs.File
	if err := cursor.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode file %s: %w", fileID, err)
	}

	var metadata bson.M
	if file.Metadata != nil {
		if err := bson.Unmarshal(file.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", fileID, err)
		}
	}

	return attachmentFromFile(fileID, file.Name, file.Length, metadata), nil
}

// Open streams the file behind fileID. The caller closes the reader.
func (s *AttachmentStore) Open(ctx context.Context, fileID string) (io.ReadCloser, *common.Attachment, error) {
	objectID, err := ParseFileID(fileID)
	if err != nil {
		return nil, nil, err
	}

	stream, err := s.gridFS.OpenDownloadStream(objectID)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, nil, fmt.Errorf("file %s: %w", fileID, common.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("download failed: %w: %v", common.ErrTransient, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		stream.SetReadDeadline(deadline)
	}

	file := stream.GetFile()
	var metadata bson.M
	if file.Metadata != nil {
		bson.Unmarshal(file.Metadata, &metadata)
	}
	return stream, attachmentFromFile(fileID, file.Name, file.Length, metadata), nil
}

// ParseFileID validates a GridFS object id.
func ParseFileID(fileID string) (primitive.ObjectID, error) {
	objectID, err := primitive.ObjectIDFromHex(fileID)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid file ID %q: %w", fileID, errors.Join(common.ErrInvalidInput, err))
	}
	return objectID, nil
}

func attachmentFromFile(fileID, name string, size int64, metadata bson.M) *common.Attachment {
	fileType := common.MediaFileType(getStringFromMap(metadata, "file_type"))
	if !fileType.IsValid() {
		fileType = common.DetectFileType(getStringFromMap(metadata, "mime_type"))
	}
	return &common.Attachment{
		FileID:   fileID,
		FileName: name,
		FileType: fileType,
		Size:     size,
	}
}

func getStringFromMap(m bson.M, key string) string {
	if m == nil {
		return ""
	}
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
