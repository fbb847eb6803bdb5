package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contentdrive/internal/domain"
	"contentdrive/internal/repository"
	"github.com/google/uuid"
)

func newID() string { return uuid.NewString() }

func getNode(ctx context.Context, nodes repository.NodeStore, id string) (*domain.Node, error) {
	node, err := nodes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return node, nil
}

func getFolder(ctx context.Context, nodes repository.NodeStore, id string) (*domain.Node, error) {
	node, err := nodes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.FolderNotFound(id)
		}
		return nil, err
	}
	if !node.IsFolder() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFolder, id)
	}
	return node, nil
}

func getFile(ctx context.Context, nodes repository.NodeStore, id string) (*domain.Node, error) {
	node, err := nodes.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.FileNotFound(id)
		}
		return nil, err
	}
	if !node.IsFile() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFile, id)
	}
	return node, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.ErrInvalidName
	}
	return nil
}

// ensureUniqueName fails when another child of parentID already uses name.
// excludeID lets a node keep its own name during rename and move.
func ensureUniqueName(ctx context.Context, nodes repository.NodeStore, parentID, name, excludeID string) error {
	existing, err := nodes.GetByName(ctx, parentID, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if existing.ID == excludeID {
		return nil
	}
	return &domain.DuplicateNameError{Name: name, ParentID: parentID}
}

// stampNode records who touched the node and when. No-op without a user.
func stampNode(ctx context.Context, nodes repository.NodeStore, nodeID, userID string, now time.Time) error {
	if userID == "" {
		return nil
	}
	if _, err := nodes.SetAttribute(ctx, nodeID, domain.AttrLastModifiedOn, domain.FormatMillis(now)); err != nil {
		return err
	}
	if _, err := nodes.SetAttribute(ctx, nodeID, domain.AttrLastModifiedBy, userID); err != nil {
		return err
	}
	return nil
}

func stampVersion(ctx context.Context, versions repository.VersionStore, versionID, userID string, now time.Time) error {
	if userID == "" {
		return nil
	}
	if err := versions.SetAttribute(ctx, versionID, domain.AttrLastModifiedOn, domain.FormatMillis(now)); err != nil {
		return err
	}
	return versions.SetAttribute(ctx, versionID, domain.AttrLastModifiedBy, userID)
}

func creationAttributes(userID string, now time.Time) []domain.NodeAttribute {
	if userID == "" {
		return nil
	}
	return []domain.NodeAttribute{
		{Name: domain.AttrCreatedBy, Value: userID},
		{Name: domain.AttrLastModifiedOn, Value: domain.FormatMillis(now)},
		{Name: domain.AttrLastModifiedBy, Value: userID},
	}
}

// resolveVersion finds a version of fileID by name, or the latest one when name is empty.
func resolveVersion(ctx context.Context, versions repository.VersionStore, fileID, name string) (*domain.Version, error) {
	if name == "" {
		return versions.GetLatest(ctx, fileID)
	}
	return versions.GetByName(ctx, fileID, name)
}
