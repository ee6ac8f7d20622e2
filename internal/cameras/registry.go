// Package cameras is the registry of configured logical cameras.
package cameras

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/sua-org/ppe-watch/internal/config"
	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/datastore"
)

type Store interface {
	ListCameras(ctx context.Context) ([]datastore.Camera, error)
	GetCamera(ctx context.Context, id uint) (datastore.Camera, error)
	CreateCamera(ctx context.Context, cam *datastore.Camera) error
	UpdateCamera(ctx context.Context, id uint, name, zone string) (datastore.Camera, error)
	SetCameraStatus(ctx context.Context, id uint, status core.CameraStatus) error
	DeleteCamera(ctx context.Context, id uint) error
}

// Releaser closes the open device handle of a camera, if any.
type Releaser interface {
	Release(cameraID uint)
}

type Registry struct {
	store    Store
	releaser Releaser
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// SetReleaser wires the handle owner. The capture manager needs the registry
// as its lookup, so it is attached after both exist.
func (r *Registry) SetReleaser(rel Releaser) {
	r.releaser = rel
}

func toLogical(c datastore.Camera) core.LogicalCamera {
	return core.LogicalCamera{
		ID:         c.ID,
		PhysicalID: c.PhysicalID,
		Name:       c.Name,
		Zone:       c.Zone,
		Status:     core.CameraStatus(c.Status),
		Resolution: c.Resolution,
	}
}

func (r *Registry) List(ctx context.Context) ([]core.LogicalCamera, error) {
	cams, err := r.store.ListCameras(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.LogicalCamera, len(cams))
	for i, c := range cams {
		out[i] = toLogical(c)
	}
	return out, nil
}

func (r *Registry) Get(ctx context.Context, id uint) (core.LogicalCamera, error) {
	c, err := r.store.GetCamera(ctx, id)
	if err != nil {
		return core.LogicalCamera{}, err
	}
	return toLogical(c), nil
}

// Camera implements capture.CameraLookup.
func (r *Registry) Camera(id uint) (core.LogicalCamera, error) {
	return r.Get(context.Background(), id)
}

func (r *Registry) Add(ctx context.Context, physicalID int, name, zone string) (core.LogicalCamera, error) {
	name = strings.TrimSpace(name)
	zone = strings.TrimSpace(zone)
	if name == "" || zone == "" {
		return core.LogicalCamera{}, fmt.Errorf("name and zone are required: %w", core.ErrValidationFailed)
	}
	if physicalID < 0 {
		return core.LogicalCamera{}, fmt.Errorf("physical id %d: %w", physicalID, core.ErrValidationFailed)
	}
	cam := datastore.Camera{PhysicalID: physicalID, Name: name, Zone: zone}
	if err := r.store.CreateCamera(ctx, &cam); err != nil {
		return core.LogicalCamera{}, err
	}
	log.Printf("[cameras] added camera %d (%s, zone %s) on device %d", cam.ID, cam.Name, cam.Zone, cam.PhysicalID)
	return toLogical(cam), nil
}

// Update renames or rezones a camera; empty values keep the current one.
func (r *Registry) Update(ctx context.Context, id uint, name, zone string) (core.LogicalCamera, error) {
	c, err := r.store.UpdateCamera(ctx, id, strings.TrimSpace(name), strings.TrimSpace(zone))
	if err != nil {
		return core.LogicalCamera{}, err
	}
	return toLogical(c), nil
}

func (r *Registry) SetStatus(ctx context.Context, id uint, status core.CameraStatus) error {
	return r.store.SetCameraStatus(ctx, id, status)
}

// Delete releases the camera's handle and removes the camera.
func (r *Registry) Delete(ctx context.Context, id uint) error {
	if _, err := r.store.GetCamera(ctx, id); err != nil {
		return err
	}
	r.release(id)
	if err := r.store.DeleteCamera(ctx, id); err != nil {
		return err
	}
	// A stream may have re-acquired between the first release and the delete.
	r.release(id)
	log.Printf("[cameras] deleted camera %d", id)
	return nil
}

func (r *Registry) release(id uint) {
	if r.releaser != nil {
		r.releaser.Release(id)
	}
}

// Seed registers the seeded cameras whose physical id is not configured yet.
func (r *Registry) Seed(ctx context.Context, seeds []config.CameraSeed) (int, error) {
	added := 0
	for _, s := range seeds {
		_, err := r.Add(ctx, s.PhysicalID, s.Name, s.Zone)
		switch {
		case err == nil:
			added++
		case errors.Is(err, core.ErrValidationFailed):
			log.Printf("[cameras] seed %q skipped: %v", s.Name, err)
		default:
			return added, err
		}
	}
	return added, nil
}
