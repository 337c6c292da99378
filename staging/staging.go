// Package staging downloads remote replay files to local disk so they can
// be read at exact byte offsets.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
	"github.com/refractionPOINT/syslog-generator/utils"
	"google.golang.org/api/option"
)

const (
	schemeS3  = "s3"
	schemeGCS = "gs"
)

type StagingConfig struct {
	LogOptions utils.LogOptions `json:"-" yaml:"-"`
	// Dir receives the downloaded files, defaults to the OS temp dir.
	Dir string `json:"staging_dir" yaml:"staging_dir"`

	AWSAccessKey string `json:"aws_access_key" yaml:"aws_access_key"`
	AWSSecretKey string `json:"aws_secret_key" yaml:"aws_secret_key"`
	// GCSCredentials is a service account file path, its inline JSON, or
	// "-" for anonymous access. Empty uses the default credentials.
	GCSCredentials string `json:"gcs_credentials" yaml:"gcs_credentials"`
}

type remoteObject struct {
	scheme string
	bucket string
	key    string
}

// IsRemote reports whether the path names an object that must be staged.
func IsRemote(p string) bool {
	_, ok, _ := parseRemote(p)
	return ok
}

func parseRemote(p string) (remoteObject, bool, error) {
	if !strings.HasPrefix(p, schemeS3+"://") && !strings.HasPrefix(p, schemeGCS+"://") {
		return remoteObject{}, false, nil
	}
	u, err := url.Parse(p)
	if err != nil {
		return remoteObject{}, true, fmt.Errorf("url.Parse(%s): %v", p, err)
	}
	obj := remoteObject{
		scheme: u.Scheme,
		bucket: u.Host,
		key:    strings.TrimPrefix(u.Path, "/"),
	}
	if obj.bucket == "" || obj.key == "" || strings.HasSuffix(obj.key, "/") {
		return obj, true, fmt.Errorf("%s: expected %s://bucket/object", p, u.Scheme)
	}
	return obj, true, nil
}

// Stage returns a local path for p, downloading it first when it is an
// s3:// or gs:// URL. Local paths are returned unchanged.
func Stage(ctx context.Context, conf StagingConfig, p string) (string, error) {
	obj, isRemote, err := parseRemote(p)
	if err != nil {
		return "", err
	}
	if !isRemote {
		return p, nil
	}

	dir := conf.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	localPath := filepath.Join(dir, fmt.Sprintf("%s-%s", uuid.NewString(), path.Base(obj.key)))
	f, err := os.Create(localPath)
	if err != nil {
		return "", err
	}

	conf.LogOptions.Debug(fmt.Sprintf("staging %s to %s", p, localPath))
	var n int64
	switch obj.scheme {
	case schemeS3:
		n, err = downloadS3(ctx, conf, obj, f)
	case schemeGCS:
		n, err = downloadGCS(ctx, conf, obj, f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("staging %s: %v", p, err)
	}
	conf.LogOptions.Debug(fmt.Sprintf("staged %s (%d bytes)", p, n))
	return localPath, nil
}

func downloadS3(ctx context.Context, conf StagingConfig, obj remoteObject, f *os.File) (int64, error) {
	awsConfig := &aws.Config{}
	if conf.AWSAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(conf.AWSAccessKey, conf.AWSSecretKey, "")
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return 0, err
	}
	region, err := s3manager.GetBucketRegion(ctx, sess, obj.bucket, "us-east-1")
	if err != nil {
		return 0, fmt.Errorf("GetBucketRegion(): %v", err)
	}
	sess = sess.Copy(&aws.Config{Region: aws.String(region)})

	return s3manager.NewDownloader(sess).DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(obj.bucket),
		Key:    aws.String(obj.key),
	})
}

func downloadGCS(ctx context.Context, conf StagingConfig, obj remoteObject, f *os.File) (int64, error) {
	var opts []option.ClientOption
	if conf.GCSCredentials == "-" {
		opts = append(opts, option.WithoutAuthentication())
	} else if conf.GCSCredentials != "" && !strings.HasPrefix(conf.GCSCredentials, "{") {
		opts = append(opts, option.WithCredentialsFile(conf.GCSCredentials))
	} else if conf.GCSCredentials != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(conf.GCSCredentials)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return 0, fmt.Errorf("storage.NewClient(): %v", err)
	}
	defer client.Close()

	r, err := client.Bucket(obj.bucket).Object(obj.key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, fmt.Errorf("object gs://%s/%s does not exist", obj.bucket, obj.key)
		}
		return 0, err
	}
	defer r.Close()
	return io.Copy(f, r)
}
