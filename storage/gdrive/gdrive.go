package gdrive

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/liweiyi88/onebackup/fileutil"
	"github.com/liweiyi88/onebackup/storage"
)

type GDrive struct {
	// email of your google cloud service account
	Email string `yaml:"email" json:"client_email,omitempty"`
	// private key of your google cloud service account
	PrivateKey string `yaml:"privatekey" json:"private_key,omitempty"`
	FolderId   string `yaml:"folderid"`

	tokenURL string
	endpoint string
}

func (gdrive *GDrive) newService(ctx context.Context) (*drive.Service, error) {
	tokenURL := gdrive.tokenURL
	if tokenURL == "" {
		tokenURL = google.JWTTokenURL
	}

	conf := &jwt.Config{
		Email:      gdrive.Email,
		PrivateKey: []byte(gdrive.PrivateKey),
		Scopes: []string{
			drive.DriveFileScope,
		},
		TokenURL: tokenURL,
	}

	opts := []option.ClientOption{option.WithHTTPClient(conf.Client(ctx))}

	if gdrive.endpoint != "" {
		opts = append(opts, option.WithEndpoint(gdrive.endpoint))
	}

	return drive.NewService(ctx, opts...)
}

func (gdrive *GDrive) Save(ctx context.Context, reader io.Reader, name string) error {
	service, err := gdrive.newService(ctx)
	if err != nil {
		return fmt.Errorf("could not create drive client error: %v", err)
	}

	driveFile := &drive.File{Name: name}

	if gdrive.FolderId != "" {
		driveFile.Parents = []string{gdrive.FolderId}
	}

	bar := storage.NewProgressBar(fileutil.FileSize(reader), "Google Drive uploading...")

	_, err = service.Files.Create(driveFile).
		Context(ctx).
		Media(reader).
		ProgressUpdater(func(now, size int64) {
			bar.Set64(now)
		}).
		Do()

	if err != nil {
		return fmt.Errorf("failed to upload file to google drive: %v", err)
	}

	return nil
}
