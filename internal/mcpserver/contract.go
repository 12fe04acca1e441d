package mcpserver

// EditContract describes how an external model expresses edits against an
// Inkwell document.
const EditContract = `# Inkwell Edit Contract

Edits are expressed against the Markdown returned by ` + "`read_document`" + `.
That text is the document body only: the YAML frontmatter is never part of it
and cannot be edited.

## Edit shape

` + "```" + `json
[
  {"startOffset": 9, "endOffset": 14, "newContent": "there"}
]
` + "```" + `

- Offsets count Unicode code points (runes), not bytes.
- Ranges are half-open: ` + "`startOffset`" + ` is included, ` + "`endOffset`" + ` is not.
- ` + "`startOffset == endOffset`" + ` inserts ` + "`newContent`" + ` at that point.
- An empty ` + "`newContent`" + ` deletes the range.
- Every offset refers to the text you read, not to the text after earlier edits
  in the same batch.

## Rules

1. **Read before editing.** Call ` + "`read_document`" + ` (or ` + "`find_selection`" + `)
   first and compute offsets from that exact text.
2. **Stay inside one block.** An edit whose range spans several paragraphs,
   headings or list items is mapped onto the first text it touches and may be
   dropped.
3. **Do not overlap.** An edit overlapping an earlier one in the batch is
   dropped and reported.
4. **Formatting markers are structural.** Replacing ` + "`**bold**`" + ` with
   ` + "`bold`" + ` changes the text, not necessarily the formatting. Markup in
   ` + "`newContent`" + ` becomes formatting only when the edit replaces a whole
   run of text; on part of a run it is kept as literal characters.
5. **Edits are staged.** The document on disk changes only after
   ` + "`save_document`" + `. Use ` + "`undo`" + ` and ` + "`redo`" + ` to step through changes.

## Result

` + "`apply_edits`" + ` reports ` + "`status`" + ` (applied, no_changes, unmappable), the
number of edits ` + "`applied`" + ` and ` + "`skipped`" + `, any ` + "`dropped`" + ` edits with a
reason, and the resulting Markdown.
`
