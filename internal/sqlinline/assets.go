package sqlinline

const assetColumns = `
  a.id::text,
  a.owner_type,
  a.owner_id::text,
  a.asset_type,
  a.asset_key,
  a.current_version_id::text,
  a.created_at,
  a.updated_at`

const versionColumns = `
  v.id::text,
  v.asset_id::text,
  v.storage_id,
  v.prompt,
  v.source,
  v.pinned,
  v.created_at`

const QSelectOwnerAssets = `--sql 73df424d-9b0c-474b-893d-082f741b18e4
select` + assetColumns + `,
  v.id::text,
  v.storage_id,
  v.prompt,
  v.source,
  v.pinned,
  v.created_at
from assets a
left join asset_versions v on v.id = a.current_version_id
where a.owner_type = $1::text
  and a.owner_id = $2::uuid
order by a.asset_type, a.asset_key;
`

const QSelectAssetByKey = `--sql a9feac37-babf-4f30-aa6a-cc90e59793e4
select` + assetColumns + `
from assets a
where a.owner_type = $1::text
  and a.owner_id = $2::uuid
  and a.asset_type = $3::text
  and a.asset_key = $4::text
limit 1;
`

const QSelectAssetByKeyForUpdate = `--sql b8de1de4-9727-4080-a62d-10898d94414d
select` + assetColumns + `
from assets a
where a.owner_type = $1::text
  and a.owner_id = $2::uuid
  and a.asset_type = $3::text
  and a.asset_key = $4::text
limit 1
for update;
`

const QSelectAssetByID = `--sql 74573c57-184e-4603-8623-32bab90e6218
select` + assetColumns + `
from assets a
where a.id = $1::uuid
limit 1;
`

const QSelectAssetByIDForUpdate = `--sql 4468b329-24d7-4e9a-83fc-32c35540fe74
select` + assetColumns + `
from assets a
where a.id = $1::uuid
limit 1
for update;
`

const QSelectVersionByID = `--sql 5a8085b2-bb71-4052-b8d6-1c33aee23f4f
select` + versionColumns + `
from asset_versions v
where v.id = $1::uuid
limit 1;
`

const QSelectVersionByIDForUpdate = `--sql b0c14f60-ff13-41b6-8ff4-a3c24ab3d63c
select` + versionColumns + `
from asset_versions v
where v.id = $1::uuid
limit 1
for update;
`

const QListVersionsByAsset = `--sql 31db6895-a93b-45de-b01f-67b3f7fe5b65
select` + versionColumns + `
from asset_versions v
where v.asset_id = $1::uuid
order by v.created_at desc, v.id desc;
`

const QSelectStyleFrames = `--sql 8f7338db-cb16-4011-9f80-69131a4d0048
select frames
from styles
where id = $1::uuid
limit 1;
`

const QSelectStyleFramesForUpdate = `--sql 24689363-4471-4651-8ec6-c1b4f4cb8827
select frames
from styles
where id = $1::uuid
limit 1
for update;
`

// QUpsertAsset inserts the asset or, when the key already exists, returns
// the existing row locked by the no-op update.
const QUpsertAsset = `--sql 71ef5b1c-1a9b-49a3-a867-842004b38b18
insert into assets(id, owner_type, owner_id, asset_type, asset_key, current_version_id, created_at, updated_at)
values ($1::uuid, $2::text, $3::uuid, $4::text, $5::text, null, $6::timestamptz, $6::timestamptz)
on conflict (owner_type, owner_id, asset_type, asset_key) do update set
  updated_at = assets.updated_at
returning id::text, current_version_id::text, created_at, updated_at;
`

const QInsertVersion = `--sql 4dd6b1bb-b0a8-4e3b-ae4c-b7ba37f53bfb
insert into asset_versions(id, asset_id, storage_id, prompt, source, pinned, created_at)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::boolean, $7::timestamptz);
`

const QUpdateAssetCurrent = `--sql 3ebab5ca-20e3-4baa-8d2f-725bdf78ea36
update assets
set current_version_id = nullif($2::text, '')::uuid,
    updated_at = $3::timestamptz
where id = $1::uuid;
`

const QUpdateVersionPinned = `--sql 7aace12e-f7a3-433f-bce0-a9343c512da1
update asset_versions
set pinned = $2::boolean
where id = $1::uuid;
`

const QDeleteVersion = `--sql 16a9be4b-19f5-4f9b-a263-12505d18c812
delete from asset_versions
where id = $1::uuid;
`

const QUpdateStyleFrames = `--sql 714a14d4-09df-454a-a8f6-eadcd38fbedf
update styles
set frames = $2::jsonb,
    updated_at = $3::timestamptz
where id = $1::uuid;
`

const QSelectExportResources = `--sql d7cf0c5d-cd65-4134-b089-079d0911e645
select
  r.id::text,
  r.name,
  r.kind,
  r.style_id::text,
  r.content,
  r.created_at,
  r.updated_at,
  s.id::text,
  s.name,
  s.frames,
  s.created_at,
  s.updated_at
from unnest($1::text[]) with ordinality as input(id, ord)
join resources r on r.id = input.id::uuid
left join styles s on s.id = r.style_id
order by input.ord;
`

const QSelectExportAssets = `--sql b6051f98-1c66-403c-bd2c-a163bcd031de
select
  a.owner_id::text,
  a.id::text,
  a.asset_type,
  a.asset_key,
  v.id::text,
  v.storage_id,
  v.prompt
from assets a
join asset_versions v on v.id = a.current_version_id
where a.owner_type = 'resource'
  and a.owner_id = any($1::text[]::uuid[])
order by a.owner_id, a.asset_type, a.asset_key;
`
