package petsync

import (
	"context"
	"io"
	"time"

	"github.com/golang/glog"

	"pawmatch.app/petsync/docstore"
)

// UpsertProfile writes the local profile. When an avatar reader and an
// image host are given the avatar is uploaded first; an upload failure
// substitutes the placeholder url rather than corrupting the record.
func (self *Client) UpsertProfile(ctx context.Context, displayName string, avatar io.Reader, host ImageHost) (Profile, error) {
	if displayName == "" {
		return Profile{}, &ValidationError{Field: "displayName", Reason: "empty"}
	}

	me := self.identity.ProfileId()
	profile := Profile{
		Id:          me,
		DisplayName: displayName,
		CreateTime:  time.Now().UTC(),
	}
	if doc, err := self.store.Get(ctx, CollectionProfiles, me); err == nil {
		existing := ProfileFromDoc(doc)
		profile.CreateTime = existing.CreateTime
		profile.AvatarUrl = existing.AvatarUrl
	}

	if avatar != nil && host != nil {
		url, err := host.Upload(ctx, me+"-avatar", avatar)
		if err != nil {
			glog.Infof("[profiles]avatar upload failed = %s\n", err)
			url = PlaceholderImageUrl
		}
		profile.AvatarUrl = url
	}

	if err := docstore.Set(ctx, self.store, CollectionProfiles, me, profile.Fields()); err != nil {
		return Profile{}, err
	}

	self.stateLock.Lock()
	self.cachedName = profile.DisplayName
	self.cachedNameLoaded = true
	self.stateLock.Unlock()
	return profile, nil
}

// Profile reads one profile. Absent profiles surface as NotFound; the
// caller renders an unknown-user fallback, nothing fatal.
func (self *Client) Profile(ctx context.Context, profileId string) (Profile, error) {
	doc, err := self.store.Get(ctx, CollectionProfiles, profileId)
	if err != nil {
		return Profile{}, err
	}
	return ProfileFromDoc(doc), nil
}

// CreatePet lists a new pet owned by the local profile.
func (self *Client) CreatePet(ctx context.Context, name string, species string, photo io.Reader, host ImageHost) (Pet, error) {
	if name == "" {
		return Pet{}, &ValidationError{Field: "name", Reason: "empty"}
	}

	pet := Pet{
		Id:             NewId().String(),
		OwnerProfileId: self.identity.ProfileId(),
		Name:           name,
		Species:        species,
		CreateTime:     time.Now().UTC(),
	}
	if photo != nil && host != nil {
		url, err := host.Upload(ctx, pet.Id+"-photo", photo)
		if err != nil {
			glog.Infof("[profiles]pet photo upload failed = %s\n", err)
			url = PlaceholderImageUrl
		}
		pet.PhotoUrl = url
	}

	if err := docstore.Set(ctx, self.store, CollectionPets, pet.Id, pet.Fields()); err != nil {
		return Pet{}, err
	}
	return pet, nil
}

// DeletePet removes a pet. Owner only; nothing cascades.
func (self *Client) DeletePet(ctx context.Context, petId string) error {
	doc, err := self.store.Get(ctx, CollectionPets, petId)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	pet := PetFromDoc(doc)
	if pet.OwnerProfileId != self.identity.ProfileId() {
		return &ValidationError{Field: "pet", Reason: "not the owner"}
	}
	return docstore.Delete(ctx, self.store, CollectionPets, petId)
}

// Pets lists the pets owned by a profile.
func (self *Client) Pets(ctx context.Context, ownerProfileId string) ([]Pet, error) {
	docs, err := self.store.List(ctx, CollectionPets, docstore.Eq("ownerProfileId", ownerProfileId))
	if err != nil {
		return nil, err
	}
	pets := make([]Pet, 0, len(docs))
	for _, doc := range docs {
		pets = append(pets, PetFromDoc(doc))
	}
	return pets, nil
}
