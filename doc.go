/*
Package layfs composes a read-only base directory tree and a writable overlay
directory tree into one filesystem view with copy-up semantics, and exposes it
through the operations a filesystem driver host invokes per open handle.

# Overview

A Mount is built from two existing directories. Reads look at the overlay
first and fall through to the base; creates, writes, deletes and renames only
ever touch the overlay. Opening a base file with write intent copies it into
the overlay first, so the base tree is never modified.

	m, err := layfs.New("/srv/image", "/srv/changes")
	if err != nil {
	    log.Fatal(err)
	}

	h, err := m.CreateOrOpen(layfs.OpenRequest{
	    Path:        "/etc/app.conf",
	    Access:      layfs.AccessWriteData,
	    Disposition: layfs.Open,
	})
	if err != nil {
	    log.Fatal(err)
	}
	defer m.Close(h)

	// /srv/changes/etc/app.conf now exists with the content of the base file
	m.Write(h, []byte("debug = true\n"), 0)

# Handles and Contexts

CreateOrOpen returns a *Handle holding one of three contexts:

  - *FileContext owns an open file in exactly one layer. Whether it can be
    modified is decided when it is opened and never changes afterwards.
  - *DirectoryContext refers to the overlay and/or the base side of a
    directory. ListEntries merges both.
  - *AttributesContext serves metadata queries without opening the file.

Every later operation takes the handle. Read and Write are addressed by
offset and may run concurrently on one handle.

# Open Dispositions

The disposition is applied against the merged view: an entry exists if either
layer has it.

	CreateNew      fails with FileExists if the entry exists in any layer
	Open           fails with NotFound if the entry is absent
	Create         creates or truncates
	Truncate       fails with NotFound if the entry is absent, else truncates
	OpenOrCreate   opens or creates

Files opened read-only from the base layer are served from the base directly;
no directories are created in the overlay for them.

# Directory Merging

Listings are the union of both layers ordered by name. An overlay entry hides
the base entry of the same name completely, including its metadata:

	// overlay: /dir/a /dir/b    base: /dir/b /dir/c
	entries, _ := m.ListEntries(h, "*")
	// a, b (from the overlay), c

Patterns accept * and ? plus the host forms <, > and ".

# Deletes

Delete only marks an entry. It is removed from the overlay when the last
handle referring to it is released, so concurrent openers keep seeing it until
then. There are no whiteouts: deleting the overlay copy of a base file makes
the base file visible again, and base-only entries cannot be deleted or
renamed.

# Metadata

Attributes a POSIX tree cannot hold natively (Hidden, System, Archive) and
creation times are kept by a MetadataStore. The default store writes a CBOR
record into the user.layfs extended attribute and degrades to what the file
mode expresses on filesystems without user xattrs.

# Errors

Operations return *Error values carrying a Status from a small taxonomy.
Classify maps any error onto it; errors.Is matches both the package sentinels
and the corresponding io/fs errors:

	_, err := m.CreateOrOpen(layfs.OpenRequest{Path: "/missing", Disposition: layfs.Open})
	errors.Is(err, layfs.ErrNotFound) // true
	errors.Is(err, fs.ErrNotExist)    // true

# absfs Compatibility

FileSystem returns an absfs.FileSystem view built on the same operations, so a
mount can be handed to code written against absfs.

# Limitations

  - Exactly two layers
  - No whiteouts or opaque directories
  - A handle opened read-only on a base file is never promoted to the overlay
  - Alternate data streams are not supported
*/
package layfs
