package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// blockBlob is the subset of *blockblob.Client the store uses.
type blockBlob interface {
	StageBlock(ctx context.Context, base64BlockID string, body io.ReadSeekCloser, options *blockblob.StageBlockOptions) (blockblob.StageBlockResponse, error)
	CommitBlockList(ctx context.Context, base64BlockIDs []string, options *blockblob.CommitBlockListOptions) (blockblob.CommitBlockListResponse, error)
	GetProperties(ctx context.Context, options *blob.GetPropertiesOptions) (blob.GetPropertiesResponse, error)
	URL() string
}

type AzureConfig struct {
	AccountURL string
	Container  string
	// AccountName and AccountKey select shared key auth. When empty the default Azure
	// credential chain is used.
	AccountName string
	AccountKey  string
	Logger      *slog.Logger
}

// Azure stages blocks on a block blob per session and commits the ordered list.
type Azure struct {
	container *container.Client
	blob      func(name string) blockBlob
	logger    *slog.Logger
}

func NewAzure(cfg AzureConfig) (*Azure, error) {
	if cfg.AccountURL == "" {
		return nil, errors.New("blobstore: azure account url is required")
	}
	if cfg.Container == "" {
		return nil, errors.New("blobstore: azure container is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var (
		client *azblob.Client
		err    error
	)
	if cfg.AccountName != "" {
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure shared key: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(cfg.AccountURL, cred, nil)
	} else {
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("azure credential: %w", credErr)
		}
		client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}

	cc := client.ServiceClient().NewContainerClient(cfg.Container)
	return &Azure{
		container: cc,
		blob:      func(name string) blockBlob { return cc.NewBlockBlobClient(name) },
		logger:    cfg.Logger,
	}, nil
}

// EnsureContainer creates the container if it does not exist yet.
func (a *Azure) EnsureContainer(ctx context.Context) error {
	if a.container == nil {
		return nil
	}
	_, err := a.container.Create(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container: %w", err)
	}
	return nil
}

func (a *Azure) StageBlock(ctx context.Context, sessionID, blockID string, data []byte) error {
	if err := checkNames(sessionID, blockID); err != nil {
		return err
	}
	_, err := a.blob(RecordingName(sessionID)).StageBlock(ctx, blockID, streaming.NopCloser(bytes.NewReader(data)), nil)
	if err != nil {
		return fmt.Errorf("stage block: %w", err)
	}
	return nil
}

func (a *Azure) CommitBlocks(ctx context.Context, sessionID string, blockIDs []string, opts CommitOptions) (Recording, error) {
	if err := checkNames(sessionID, blockIDs...); err != nil {
		return Recording{}, err
	}
	name := RecordingName(sessionID)
	bb := a.blob(name)

	commitOpts := &blockblob.CommitBlockListOptions{}
	if opts.ContentType != "" {
		commitOpts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(opts.ContentType)}
	}
	if len(opts.Metadata) > 0 {
		commitOpts.Metadata = make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			commitOpts.Metadata[k] = to.Ptr(v)
		}
	}

	if _, err := bb.CommitBlockList(ctx, blockIDs, commitOpts); err != nil {
		if bloberror.HasCode(err, bloberror.InvalidBlockList, bloberror.InvalidBlockID) {
			return Recording{}, fmt.Errorf("%w: %v", ErrUnknownBlock, err)
		}
		return Recording{}, fmt.Errorf("commit block list: %w", err)
	}

	rec := Recording{Name: name, URL: bb.URL(), Blocks: len(blockIDs)}
	props, err := bb.GetProperties(ctx, nil)
	if err != nil {
		a.logger.Warn("reading committed recording size failed", "session_id", sessionID, "err", err)
		return rec, nil
	}
	if props.ContentLength != nil {
		rec.Size = *props.ContentLength
	}
	return rec, nil
}
