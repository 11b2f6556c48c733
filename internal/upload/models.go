package upload

// InitiateUploadRequest asks for a presigned multipart upload of Size bytes
// split into parts of PartSize bytes. An empty Key gets a generated one.
type InitiateUploadRequest struct {
	Key         string `json:"key"`
	Size        int64  `json:"size" validate:"gt=0"`
	PartSize    int64  `json:"partSize" validate:"gt=0"`
	ContentType string `json:"contentType"`
}

// InitiateUploadResponse contains presigned URLs keyed by part number.
type InitiateUploadResponse struct {
	PresignedUrls map[int]string `json:"presignedUrls"`
	UploadID      string         `json:"uploadId"`
	ObjectKey     string         `json:"objectKey"`
}

// PartTag is a part the client uploaded through a presigned URL.
type PartTag struct {
	PartNumber int    `json:"partNumber" validate:"gte=1,lte=10000"`
	ETag       string `json:"eTag" validate:"required"`
}

// CompleteUploadRequest completes a presigned multipart upload.
type CompleteUploadRequest struct {
	UploadID  string    `json:"uploadId" validate:"required"`
	ObjectKey string    `json:"objectKey" validate:"required"`
	PartETags []PartTag `json:"partETags" validate:"required,min=1,dive"`
}

// CompleteUploadResponse contains the final object location.
type CompleteUploadResponse struct {
	ObjectKey string `json:"objectKey"`
	Location  string `json:"location"`
}

// AbortUploadRequest aborts a presigned multipart upload.
type AbortUploadRequest struct {
	UploadID  string `json:"uploadId" validate:"required"`
	ObjectKey string `json:"objectKey" validate:"required"`
}

// RefreshUploadRequest asks for new presigned URLs for some parts.
type RefreshUploadRequest struct {
	UploadID    string `json:"uploadId" validate:"required"`
	ObjectKey   string `json:"objectKey" validate:"required"`
	PartNumbers []int  `json:"partNumbers" validate:"required,min=1,dive,gte=1,lte=10000"`
}

// RefreshUploadResponse contains refreshed presigned URLs.
type RefreshUploadResponse struct {
	PresignedUrls map[int]string `json:"presignedUrls"`
}
