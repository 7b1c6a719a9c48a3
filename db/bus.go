package db

import (
	"github.com/shieldproject/relstore/core/bus"
)

const CatalogQueue = "releases"

func datatype(thing interface{}) string {
	switch thing.(type) {
	case Release, *Release:
		return "release"
	case ReleaseVersion, *ReleaseVersion:
		return "release-version"
	case Package, *Package:
		return "package"
	case Template, *Template:
		return "template"
	case CompiledPackage, *CompiledPackage:
		return "compiled-package"
	case Stemcell, *Stemcell:
		return "stemcell"
	default:
		panic("unable to determine the type of thing, in order to craft a message bus event for it.  This is most certainly a bug in relstore itself.")
	}
}

func (db *DB) sendCreateObjectEvent(thing interface{}, queues ...string) {
	db.bus.Send(bus.CreateObjectEvent, datatype(thing), thing, queues...)
}

func (db *DB) sendUpdateObjectEvent(thing interface{}, queues ...string) {
	db.bus.Send(bus.UpdateObjectEvent, datatype(thing), thing, queues...)
}

func (tx *Tx) sendCreateObjectEvent(thing interface{}) {
	tx.announce(func() { tx.db.sendCreateObjectEvent(thing, CatalogQueue) })
}

func (tx *Tx) sendUpdateObjectEvent(thing interface{}) {
	tx.announce(func() { tx.db.sendUpdateObjectEvent(thing, CatalogQueue) })
}
